package graph

// Kind is the kind of a pipeline element. The set of kinds is closed; any
// kind-specific data is carried by the node payload.
type Kind uint8

const (
	KindInvalid Kind = iota // KindInvalid is the zero value and never valid for a node.

	KindSource     // Source reads records from external storage.
	KindSink       // Sink writes records to external storage.
	KindOperation  // Operation applies a per-record function, filter or aggregator.
	KindGroup      // Group groups (or co-groups) records by key.
	KindMerge      // Merge unions several inputs into one stream.
	KindBoundary   // Boundary marks a required data-redistribution point.
	KindPipe       // Pipe is a named pass-through marker.
	KindCheckpoint // Checkpoint materializes its input mid-flow.
)

var kindNames = [...]string{
	KindInvalid:    "Invalid",
	KindSource:     "Source",
	KindSink:       "Sink",
	KindOperation:  "Operation",
	KindGroup:      "Group",
	KindMerge:      "Merge",
	KindBoundary:   "Boundary",
	KindPipe:       "Pipe",
	KindCheckpoint: "Checkpoint",
}

// Kinds returns all valid kinds in declaration order.
func Kinds() []Kind {
	return []Kind{KindSource, KindSink, KindOperation, KindGroup, KindMerge, KindBoundary, KindPipe, KindCheckpoint}
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool { return k > KindInvalid && k <= KindCheckpoint }

// ParseKind returns the Kind named s. The second return value is false if s
// does not name a valid kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds() {
		if kindNames[k] == s {
			return k, true
		}
	}
	return KindInvalid, false
}

// acceptsInput reports whether nodes of kind k may have incoming scopes.
func (k Kind) acceptsInput() bool { return k != KindSource }

// producesOutput reports whether nodes of kind k may have outgoing scopes.
func (k Kind) producesOutput() bool { return k != KindSink }

// singleInput reports whether nodes of kind k take exactly one input.
func (k Kind) singleInput() bool {
	switch k {
	case KindOperation, KindPipe, KindBoundary, KindSink, KindCheckpoint:
		return true
	}
	return false
}
