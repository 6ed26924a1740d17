package structs

import (
	"fmt"

	"github.com/zond/juicerpg"

	goccy "github.com/goccy/go-json"
)

// RawNode is one serialized command, [kind, ...params], with the commands
// nested under it (the bodies of if, else, while and choice options).
type RawNode struct {
	Command  []any     `json:"command"`
	Children []RawNode `json:"children,omitempty"`
}

// Node is a convenience constructor used by loaders and tests.
func Node(kind string, params ...any) RawNode {
	return RawNode{Command: append([]any{kind}, params...)}
}

// With returns n with the given children.
func (n RawNode) With(children ...RawNode) RawNode {
	n.Children = children
	return n
}

func (n RawNode) Kind() (string, error) {
	if len(n.Command) == 0 {
		return "", juicerpg.WithStack(fmt.Errorf("empty command"))
	}
	kind, ok := n.Command[0].(string)
	if !ok {
		return "", juicerpg.WithStack(fmt.Errorf("command kind %v is not a string", n.Command[0]))
	}
	return kind, nil
}

// Cursor returns a cursor over the positional parameters of n.
func (n RawNode) Cursor() (*Cursor, error) {
	kind, err := n.Kind()
	if err != nil {
		return nil, err
	}
	return NewCursor(kind, normalize(n.Command[1:])), nil
}

// normalize turns integer params, as created in code rather than decoded, into float64.
func normalize(params []any) []any {
	result := make([]any, len(params))
	for i, p := range params {
		switch v := p.(type) {
		case int:
			result[i] = float64(v)
		case int64:
			result[i] = float64(v)
		default:
			result[i] = p
		}
	}
	return flattenDynamic(result)
}

// flattenDynamic spreads DynamicValues passed as single params into kind and payload.
func flattenDynamic(params []any) []any {
	result := make([]any, 0, len(params))
	for _, p := range params {
		if d, ok := p.(DynamicValue); ok {
			payload := d.payload()
			if i, ok := payload.(int); ok {
				payload = float64(i)
			}
			result = append(result, string(d.Kind), payload)
			continue
		}
		result = append(result, p)
	}
	return result
}

// Reaction is a named command tree, stored as reactions/<name>.json in a project.
type Reaction struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Commands    []RawNode `json:"commands"`
}

func ParseReaction(b []byte) (*Reaction, error) {
	r := &Reaction{}
	if err := goccy.Unmarshal(b, r); err != nil {
		return nil, juicerpg.WithStack(err)
	}
	if r.Name == "" {
		return nil, juicerpg.WithStack(fmt.Errorf("reaction without name"))
	}
	return r, nil
}

// RunningReaction describes a running reaction well enough to restart it.
type RunningReaction struct {
	Reaction string `json:"reaction"`
	Object   int    `json:"object"`
	State    int    `json:"state"`
}

func (r RunningReaction) String() string {
	return fmt.Sprintf("%s@%d/%d", r.Reaction, r.Object, r.State)
}

// ScheduledReaction is a reaction that starts when the session reaches Frame.
type ScheduledReaction struct {
	RunningReaction
	Frame uint64 `json:"frame"`
}
