package loadbalancer

import (
	"fmt"
	"strconv"
	"strings"
)

// Candidate is a dispatch target. Name is shaped "{cluster}/x/[y.]number/z";
// the balancer treats everything else about it as opaque.
type Candidate struct {
	Name string
}

// index extracts the integer segment of a candidate name: the text between
// the second "/" and the following "/", taken after the last "." in that
// segment if one is present. Malformed names return an *ArgumentError.
func index(name string) (int, error) {
	parts := strings.Split(name, "/")
	if len(parts) < 3 {
		return 0, &ArgumentError{Msg: fmt.Sprintf("candidate name %q has fewer than 3 segments", name)}
	}

	segment := parts[2]
	if dot := strings.LastIndex(segment, "."); dot >= 0 {
		segment = segment[dot+1:]
	}

	n, err := strconv.Atoi(segment)
	if err != nil || n < 0 {
		return 0, &ArgumentError{Msg: fmt.Sprintf("candidate name %q has no valid index segment", name)}
	}
	return n, nil
}
