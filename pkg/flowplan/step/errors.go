package step

import (
	"errors"
	"fmt"

	"github.com/grafana/flowplan/pkg/flowplan/graph"
)

// ErrNoValidPartition is wrapped by every [*PartitionError].
var ErrNoValidPartition = errors.New("no valid partition")

// Reason classifies a [*PartitionError].
type Reason string

const (
	ReasonEmpty          Reason = "empty"
	ReasonSelfDependency Reason = "self_dependency"
	ReasonCycle          Reason = "cycle"
)

// PartitionError reports that an element graph cannot be split into steps.
type PartitionError struct {
	Reason Reason
	Nodes  []graph.NodeID // Nodes involved in the failure, if any.
	Msg    string
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrNoValidPartition, e.Reason, e.Msg)
}

func (e *PartitionError) Unwrap() error { return ErrNoValidPartition }
