// Package rules holds the rule catalog used by the planner.
//
// The catalog is data: each rule is a pattern and a transform built from the
// expression and transformer packages. Changing the catalog changes plans, so
// every change must bump CatalogVersion.
package rules

import (
	"github.com/grafana/flowplan/pkg/flowplan/graph"
	"github.com/grafana/flowplan/pkg/flowplan/iso/expression"
	"github.com/grafana/flowplan/pkg/flowplan/iso/finder"
	"github.com/grafana/flowplan/pkg/flowplan/iso/transformer"
	"github.com/grafana/flowplan/pkg/flowplan/rewrite"
)

// CatalogVersion identifies the contents of [Default].
const CatalogVersion = "v1"

// Phase names.
const (
	PhaseNormalize  = "normalize"
	PhaseBoundaries = "boundaries"
)

// Rule names.
const (
	ElidePipeMarker              = "elide-pipe-marker"
	DemoteSingleInputMerge       = "demote-single-input-merge"
	ElideDuplicateBoundary       = "elide-duplicate-boundary"
	InsertBoundaryBeforeGrouping = "insert-boundary-before-grouping"
)

// Default returns a fresh copy of the default phases. Callers may append
// rules or phases to the result without affecting other callers.
func Default() []rewrite.Phase {
	return []rewrite.Phase{
		{
			Name: PhaseNormalize,
			Rules: []*transformer.Rule{
				elidePipeMarker(),
				demoteSingleInputMerge(),
				elideDuplicateBoundary(),
			},
		},
		{
			Name: PhaseBoundaries,
			Rules: []*transformer.Rule{
				insertBoundaryBeforeGrouping(),
			},
		},
	}
}

// All returns every rule of the default phases in application order.
func All() []*transformer.Rule {
	var res []*transformer.Rule
	for _, p := range Default() {
		res = append(res, p.Rules...)
	}
	return res
}

func elidePipeMarker() *transformer.Rule {
	return &transformer.Rule{
		Name:      ElidePipeMarker,
		Pattern:   expression.Single(expression.KindIs(graph.KindPipe, expression.WithCapture(expression.Primary))),
		Transform: transformer.Remove{Capture: expression.Primary},
	}
}

func demoteSingleInputMerge() *transformer.Rule {
	return &transformer.Rule{
		Name:    DemoteSingleInputMerge,
		Pattern: expression.Single(expression.KindIs(graph.KindMerge, expression.WithCapture(expression.Primary))),
		Check: func(g *graph.Graph, m *finder.Match) bool {
			n, _ := m.CapturedNode(expression.Primary)
			return g.InDegree(n) == 1
		},
		Transform: transformer.Replace{Capture: expression.Primary, Kind: graph.KindPipe},
	}
}

func elideDuplicateBoundary() *transformer.Rule {
	return &transformer.Rule{
		Name: ElideDuplicateBoundary,
		Pattern: expression.Chain(
			expression.KindIs(graph.KindBoundary),
			expression.KindIs(graph.KindBoundary, expression.WithCapture(expression.Primary)),
		),
		Transform: transformer.Remove{Capture: expression.Primary},
	}
}

// insertBoundaryBeforeGrouping guards every input of a grouping or
// source-like element with a Boundary, unless a Boundary already feeds it.
func insertBoundaryBeforeGrouping() *transformer.Rule {
	var (
		guard    = expression.KindIs(graph.KindBoundary)
		grouping = expression.And(expression.Boundaries(), expression.Not(guard))
	)
	return &transformer.Rule{
		Name: InsertBoundaryBeforeGrouping,
		Pattern: expression.Chain(
			expression.Not(guard).With(expression.WithCapture(expression.Secondary)),
			grouping.With(expression.WithCapture(expression.Primary)),
		),
		Transform: transformer.InsertBefore{
			Capture: expression.Primary,
			Kind:    graph.KindBoundary,
			Name:    "boundary",
			Unless:  guard,
		},
	}
}
