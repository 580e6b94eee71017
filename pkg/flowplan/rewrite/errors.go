package rewrite

import (
	"errors"
	"fmt"
)

// ErrPlanningDivergence is returned when a phase does not reach a fixed
// point within its iteration bound.
var ErrPlanningDivergence = errors.New("planning diverged")

// errNoChange is the cause recorded when a transform leaves the graph
// structurally unchanged.
var errNoChange = errors.New("transform did not change the graph")

// DivergenceError describes a phase that exceeded its iteration bound.
type DivergenceError struct {
	Phase      string
	Rule       string // Rule is the last rule applied before giving up.
	Iterations int
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("%s: phase %s did not reach a fixed point after %d iterations (last rule %s)",
		ErrPlanningDivergence, e.Phase, e.Iterations, e.Rule)
}

func (e *DivergenceError) Unwrap() error { return ErrPlanningDivergence }
