package graph

import (
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every [*MalformedError].
var ErrMalformed = errors.New("malformed graph")

// Reason classifies a [MalformedError].
type Reason string

const (
	ReasonEmpty         Reason = "empty"
	ReasonCycle         Reason = "cycle"
	ReasonDangling      Reason = "dangling_scope"
	ReasonSourceInput   Reason = "source_with_input"
	ReasonSinkOutput    Reason = "sink_with_output"
	ReasonMissingInput  Reason = "missing_input"
	ReasonMissingOutput Reason = "missing_output"
	ReasonArity         Reason = "input_arity"
)

// MalformedError reports a structural defect of a graph, together with the
// nodes and scope involved.
type MalformedError struct {
	Reason Reason
	Nodes  []NodeID
	Scope  EdgeID // InvalidEdge when the defect is not tied to a scope.
	Msg    string
}

func (e *MalformedError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s", ErrMalformed, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrMalformed, e.Reason, e.Msg)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }

// AsMalformedError returns err as a *MalformedError, or nil if err does not
// wrap one.
func AsMalformedError(err error) *MalformedError {
	var me *MalformedError
	if errors.As(err, &me) {
		return me
	}
	return nil
}
