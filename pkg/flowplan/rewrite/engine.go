// Package rewrite runs phases of rewrite rules over an element graph until
// each phase reaches a fixed point.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/grafana/flowplan/pkg/flowplan/graph"
	"github.com/grafana/flowplan/pkg/flowplan/iso/finder"
	"github.com/grafana/flowplan/pkg/flowplan/iso/transformer"
)

var tracer = otel.Tracer("pkg/flowplan/rewrite")

// DefaultMaxIterations bounds the number of rule applications per phase when
// neither the phase nor the engine sets a bound.
const DefaultMaxIterations = 10_000

// Phase is an ordered list of rules run to a fixed point.
type Phase struct {
	Name  string
	Rules []*transformer.Rule

	// MaxIterations bounds the number of applications in this phase.
	// Zero uses the engine default.
	MaxIterations int
}

// Validate checks that p and its rules are complete.
func (p *Phase) Validate() error {
	if p.Name == "" {
		return errors.New("phase has no name")
	}
	for _, r := range p.Rules {
		if r == nil {
			return fmt.Errorf("phase %s has a nil rule", p.Name)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("phase %s: %w", p.Name, err)
		}
	}
	return nil
}

// Observer receives engine events. Implementations must be safe for
// concurrent use if the engine is shared between goroutines.
type Observer interface {
	RuleApplied(phase, rule string)
	RuleViolated(phase, rule string)
	PhaseCompleted(phase string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) RuleApplied(string, string)           {}
func (nopObserver) RuleViolated(string, string)          {}
func (nopObserver) PhaseCompleted(string, time.Duration) {}

// Options configures an [Engine].
type Options struct {
	Logger   log.Logger
	Observer Observer
	Clock    quartz.Clock

	// MaxIterations is the default bound for phases that do not set one.
	MaxIterations int

	// Finder returns the finder used to search for matches of a rule. It
	// defaults to a sequential finder over the rule pattern.
	Finder func(*transformer.Rule) *finder.Finder
}

// Engine applies rewrite phases to element graphs. An Engine holds no
// per-run state and may be used concurrently on distinct graphs.
type Engine struct {
	logger        log.Logger
	observer      Observer
	clock         quartz.Clock
	maxIterations int
	finder        func(*transformer.Rule) *finder.Finder
}

// New returns a new Engine.
func New(opts Options) *Engine {
	e := &Engine{
		logger:        opts.Logger,
		observer:      opts.Observer,
		clock:         opts.Clock,
		maxIterations: opts.MaxIterations,
		finder:        opts.Finder,
	}
	if e.logger == nil {
		e.logger = log.NewNopLogger()
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.clock == nil {
		e.clock = quartz.NewReal()
	}
	if e.maxIterations <= 0 {
		e.maxIterations = DefaultMaxIterations
	}
	if e.finder == nil {
		e.finder = func(r *transformer.Rule) *finder.Finder { return finder.New(r.Pattern) }
	}
	return e
}

// Run applies phases to g in order. Within a phase the engine repeatedly
// scans the rules in list order, applies the first applicable match it
// finds, and rescans from scratch, until no rule applies.
//
// Every application is made on a copy of g and committed only if the
// result is a valid graph that differs from g. Rejected applications are
// logged, reported as violations and not retried until the graph changes.
// Run therefore never leaves g in an invalid state, even when it returns an
// error.
func (e *Engine) Run(ctx context.Context, g *graph.Graph, phases ...Phase) (Report, error) {
	var report Report

	if err := g.Validate(); err != nil {
		return report, err
	}
	for i := range phases {
		if err := phases[i].Validate(); err != nil {
			return report, err
		}
	}

	for _, phase := range phases {
		pr, err := e.runPhase(ctx, g, phase)
		report.Phases = append(report.Phases, pr)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

func (e *Engine) runPhase(ctx context.Context, g *graph.Graph, phase Phase) (PhaseReport, error) {
	ctx, span := tracer.Start(ctx, "Engine.runPhase", trace.WithAttributes(
		attribute.String("phase", phase.Name),
		attribute.Int("nodes", g.Len()),
	))
	defer span.End()

	var (
		start  = e.clock.Now()
		logger = log.With(e.logger, "phase", phase.Name)
		report = PhaseReport{Name: phase.Name}
		failed = make(map[string]struct{})

		limit = phase.MaxIterations
	)
	if limit <= 0 {
		limit = e.maxIterations
	}

	finish := func(err error) (PhaseReport, error) {
		report.Duration = e.clock.Since(start)
		e.observer.PhaseCompleted(phase.Name, report.Duration)
		span.SetAttributes(
			attribute.Int("applications", len(report.Applications)),
			attribute.Int("violations", report.Violations),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return report, err
	}

	finders := make([]*finder.Finder, len(phase.Rules))
	for i, r := range phase.Rules {
		finders[i] = e.finder(r)
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		app, ok, err := e.applyNext(ctx, logger, g, phase, finders, failed, &report)
		if err != nil {
			return finish(err)
		}
		if !ok {
			break
		}
		if len(report.Applications) == limit {
			return finish(&DivergenceError{Phase: phase.Name, Rule: app.Rule, Iterations: limit})
		}
		report.Applications = append(report.Applications, app)
	}

	level.Debug(logger).Log(
		"msg", "phase reached fixed point",
		"applications", len(report.Applications),
		"violations", report.Violations,
	)
	return finish(nil)
}

// applyNext scans the rules of phase in order and commits the first
// application that yields a valid, changed graph. It reports false if no
// rule applies. Matches are searched lazily, so the scan stops at the first
// committed application.
func (e *Engine) applyNext(
	ctx context.Context,
	logger log.Logger,
	g *graph.Graph,
	phase Phase,
	finders []*finder.Finder,
	failed map[string]struct{},
	report *PhaseReport,
) (Application, bool, error) {
	before := g.Fingerprint()

	for i, rule := range phase.Rules {
		var (
			committed *graph.Graph
			match     *finder.Match
		)
		err := finders[i].Each(ctx, g, func(m *finder.Match) bool {
			if !rule.Applicable(g, m) {
				return true
			}
			key := rule.Name + "/" + m.Key()
			if _, skip := failed[key]; skip {
				return true
			}

			work := g.Clone()
			if err := e.apply(rule, work, m, before); err != nil {
				failed[key] = struct{}{}
				report.Violations++
				e.observer.RuleViolated(phase.Name, rule.Name)
				level.Warn(logger).Log("msg", "rejected rule application", "rule", rule.Name, "match", m, "err", err)
				return true
			}
			committed, match = work, m
			return false
		})
		if err != nil {
			return Application{}, false, err
		}
		if committed == nil {
			continue
		}

		*g = *committed
		clear(failed)
		e.observer.RuleApplied(phase.Name, rule.Name)
		level.Debug(logger).Log("msg", "applied rule", "rule", rule.Name, "match", match)
		return Application{Rule: rule.Name, Nodes: match.Nodes()}, true, nil
	}
	return Application{}, false, nil
}

// apply applies rule to work and checks the result.
func (e *Engine) apply(rule *transformer.Rule, work *graph.Graph, m *finder.Match, before uint64) error {
	if err := rule.Apply(work, m); err != nil {
		return err
	}
	if err := work.Validate(); err != nil {
		return &transformer.ViolationError{Rule: rule.Name, Nodes: m.Nodes(), Err: err}
	}
	if work.Fingerprint() == before {
		return &transformer.ViolationError{Rule: rule.Name, Nodes: m.Nodes(), Err: errNoChange}
	}
	return nil
}
