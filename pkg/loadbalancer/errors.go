package loadbalancer

import "fmt"

// ArgumentError signals a malformed candidate name.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("loadbalancer: %s", e.Msg)
}
