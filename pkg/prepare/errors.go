package prepare

import "fmt"

// ArgumentError signals a caller precondition violation.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("prepare: %s", e.Msg)
}
