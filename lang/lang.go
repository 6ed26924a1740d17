// Package lang renders English lists and counts for console output.
package lang

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gertd/go-pluralize"
)

const (
	DefaultPattern   = "%s"
	DefaultSeparator = ","
	DefaultOperator  = "and"
)

var (
	client       = pluralize.NewClient()
	smallNumbers = []string{"no", "one", "two", "three"}
)

type Enumerator struct {
	Pattern   string
	Separator string
	Operator  string
}

// Do joins elements like "a, b, and c".
func (e Enumerator) Do(elements ...string) string {
	pattern, separator, operator := DefaultPattern, DefaultSeparator, DefaultOperator
	if e.Pattern != "" {
		pattern = e.Pattern
	}
	if e.Separator != "" {
		separator = e.Separator
	}
	if e.Operator != "" {
		operator = e.Operator
	}
	res := &bytes.Buffer{}
	for idx, element := range elements {
		if idx > 0 {
			if len(elements) > 2 {
				res.WriteString(separator)
			}
			if idx+1 == len(elements) {
				fmt.Fprintf(res, " %s", operator)
			}
			res.WriteString(" ")
		}
		fmt.Fprintf(res, pattern, element)
	}
	return res.String()
}

func Plural(word string) string {
	return client.Plural(word)
}

func article(word string) string {
	if word != "" && strings.ContainsRune("aeiouAEIOU", rune(word[0])) {
		return "an"
	}
	return "a"
}

// Card returns count of word, like "no reactions", "an error" or "4 plugins".
func Card(count int, word string) string {
	switch {
	case count == 1:
		return fmt.Sprintf("%s %s", article(word), word)
	case count >= 0 && count < len(smallNumbers):
		return fmt.Sprintf("%s %s", smallNumbers[count], Plural(word))
	}
	return fmt.Sprintf("%d %s", count, Plural(word))
}
