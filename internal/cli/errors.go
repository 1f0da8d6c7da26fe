package cli

import "fmt"

type notFoundError struct {
	kind string
	id   string
}

func (e notFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.kind, e.id)
}

func errNotFound(kind, id string) error {
	return notFoundError{kind: kind, id: id}
}

// noChangeError reports an edit the outline refused, such as indenting a first child.
type noChangeError struct {
	op string
	id string
}

func (e noChangeError) Error() string {
	if e.id == "" {
		return fmt.Sprintf("%s: nothing changed", e.op)
	}
	return fmt.Sprintf("%s %s: nothing changed", e.op, e.id)
}

func errNoChange(op, id string) error {
	return noChangeError{op: op, id: id}
}
