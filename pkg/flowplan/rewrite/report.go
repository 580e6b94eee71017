package rewrite

import (
	"time"

	"github.com/grafana/flowplan/pkg/flowplan/graph"
)

// Application records a successful rule application.
type Application struct {
	Rule  string
	Nodes []graph.NodeID // Nodes matched by the rule, before the edit.
}

// PhaseReport summarizes the run of a single phase.
type PhaseReport struct {
	Name         string
	Applications []Application
	Violations   int
	Duration     time.Duration
}

// Report summarizes a call to [Engine.Run].
type Report struct {
	Phases []PhaseReport
}

// Applied returns the total number of rule applications across all phases.
func (r Report) Applied() int {
	var n int
	for _, p := range r.Phases {
		n += len(p.Applications)
	}
	return n
}

// Violations returns the total number of rejected applications across all
// phases.
func (r Report) Violations() int {
	var n int
	for _, p := range r.Phases {
		n += p.Violations
	}
	return n
}

// Count returns how many times the named rule was applied.
func (r Report) Count(rule string) int {
	var n int
	for _, p := range r.Phases {
		for _, a := range p.Applications {
			if a.Rule == rule {
				n++
			}
		}
	}
	return n
}
