package game

import (
	"fmt"
	"regexp"
)

var (
	// validSlotRE matches save slot names: 1-32 chars starting with a letter
	// or digit, then letters, digits, hyphens or underscores.
	validSlotRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,31}$`)
)

type InvalidSlotError struct {
	Slot string
}

func (e InvalidSlotError) Error() string {
	return fmt.Sprintf("Invalid save slot %q. Must be 1-32 characters, start with a letter or digit, and contain only letters, digits, hyphens, or underscores.", e.Slot)
}

func validateSlot(slot string) error {
	if !validSlotRE.MatchString(slot) {
		return InvalidSlotError{Slot: slot}
	}
	return nil
}
