// Package flowplan plans data pipelines. It rewrites an element graph with
// the rule catalog until every phase reaches a fixed point, and partitions
// the result into steps that can be scheduled independently.
package flowplan

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/quartz"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/grafana/flowplan/pkg/flowplan/graph"
	"github.com/grafana/flowplan/pkg/flowplan/iso/finder"
	"github.com/grafana/flowplan/pkg/flowplan/iso/transformer"
	"github.com/grafana/flowplan/pkg/flowplan/rewrite"
	"github.com/grafana/flowplan/pkg/flowplan/rules"
	"github.com/grafana/flowplan/pkg/flowplan/step"
)

var (
	// ErrMalformed is returned when the element graph to plan is not valid.
	ErrMalformed = graph.ErrMalformed

	// ErrTransformViolation is wrapped by rule applications that were
	// rejected. Planning never fails with it; it is reported through logs and
	// metrics.
	ErrTransformViolation = transformer.ErrTransformViolation

	// ErrPlanningDivergence is returned when a phase does not reach a fixed
	// point within the configured number of iterations.
	ErrPlanningDivergence = rewrite.ErrPlanningDivergence

	// ErrNoValidPartition is returned when the planned graph cannot be split
	// into steps.
	ErrNoValidPartition = step.ErrNoValidPartition
)

var tracer = otel.Tracer("pkg/flowplan")

// Params holds parameters for constructing a new [Planner].
type Params struct {
	Logger     log.Logger            // Logger for optional log messages.
	Registerer prometheus.Registerer // Registerer for optional metrics.

	Config Config // Config for the Planner.

	// Phases are the rewrite phases to run. Defaults to [rules.Default].
	Phases []rewrite.Phase

	Clock quartz.Clock // Clock used to measure planning. Defaults to the real clock.
}

// validate validates p and applies defaults.
func (p *Params) validate() error {
	if p.Logger == nil {
		p.Logger = log.NewNopLogger()
	}
	if p.Registerer == nil {
		p.Registerer = prometheus.NewRegistry()
	}
	if p.Clock == nil {
		p.Clock = quartz.NewReal()
	}
	if p.Phases == nil {
		p.Phases = rules.Default()
	}
	for i := range p.Phases {
		if err := p.Phases[i].Validate(); err != nil {
			return err
		}
	}
	if err := p.Config.Validate(); err != nil {
		return fmt.Errorf("invalid planner config: %w", err)
	}
	return nil
}

// Planner turns element graphs into step graphs. A Planner may be used
// concurrently.
type Planner struct {
	logger  log.Logger
	metrics *metrics
	clock   quartz.Clock
	config  Config

	phases  []rewrite.Phase
	engine  *rewrite.Engine
	finders *lru.Cache[*transformer.Rule, *finder.Finder]
}

// New creates a new Planner.
func New(params Params) (*Planner, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	finders, err := lru.New[*transformer.Rule, *finder.Finder](params.Config.FinderCacheSize)
	if err != nil {
		return nil, err
	}

	p := &Planner{
		logger:  params.Logger,
		metrics: newMetrics(params.Registerer),
		clock:   params.Clock,
		config:  params.Config,

		phases:  params.Phases,
		finders: finders,
	}
	p.engine = rewrite.New(rewrite.Options{
		Logger:        p.logger,
		Observer:      p.metrics,
		Clock:         p.clock,
		MaxIterations: params.Config.MaxPhaseIterations,
		Finder:        p.finderFor,
	})
	return p, nil
}

// finderFor returns the cached finder for r.
func (p *Planner) finderFor(r *transformer.Rule) *finder.Finder {
	if f, ok := p.finders.Get(r); ok {
		return f
	}
	f := finder.New(r.Pattern, finder.WithParallelism(p.config.MatcherParallelism))
	p.finders.Add(r, f)
	return f
}

// Plan validates g, rewrites a copy of it with the planner phases and
// partitions the result into steps. g itself is never modified; the
// rewritten graph is available from [step.Graph.Elements].
func (p *Planner) Plan(ctx context.Context, g *graph.Graph) (*step.Graph, error) {
	ctx, span := tracer.Start(ctx, "Planner.Plan", trace.WithAttributes(
		attribute.Int("nodes", g.Len()),
		attribute.Int("scopes", g.ScopeLen()),
		attribute.String("catalog", rules.CatalogVersion),
	))
	defer span.End()

	start := p.clock.Now()
	steps, report, err := p.plan(ctx, g)
	duration := p.clock.Since(start)
	p.metrics.planningSeconds.Observe(duration.Seconds())

	if err != nil {
		p.metrics.plansTotal.WithLabelValues(planStatus(err)).Inc()
		level.Warn(p.logger).Log("msg", "planning failed", "nodes", g.Len(), "duration", duration.String(), "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	p.metrics.plansTotal.WithLabelValues(statusSuccess).Inc()
	p.metrics.stepsPerPlan.Observe(float64(steps.Len()))
	level.Info(p.logger).Log(
		"msg", "finished planning",
		"nodes", g.Len(),
		"planned_nodes", steps.Elements().Len(),
		"steps", steps.Len(),
		"applications", report.Applied(),
		"violations", report.Violations(),
		"duration", duration.String(),
	)
	span.SetAttributes(
		attribute.Int("steps", steps.Len()),
		attribute.Int("applications", report.Applied()),
	)
	return steps, nil
}

func (p *Planner) plan(ctx context.Context, g *graph.Graph) (*step.Graph, rewrite.Report, error) {
	if err := g.Validate(); err != nil {
		return nil, rewrite.Report{}, err
	}

	work := g.Clone()
	report, err := p.engine.Run(ctx, work, p.phases...)
	if err != nil {
		return nil, report, err
	}

	steps, err := step.Partition(work)
	if err != nil {
		return nil, report, err
	}
	level.Debug(p.logger).Log("msg", "partitioned element graph", "plan", steps)
	return steps, report, nil
}

func planStatus(err error) string {
	switch {
	case errors.Is(err, ErrMalformed):
		return statusInvalid
	case errors.Is(err, ErrPlanningDivergence):
		return statusDiverged
	}
	return statusFailed
}

// PlanAll plans every graph in graphs concurrently, running at most
// MaxConcurrentPlans plans at once. The result holds one step graph per
// input graph, in the same order. PlanAll returns the first error
// encountered and cancels the remaining plans.
func (p *Planner) PlanAll(ctx context.Context, graphs []*graph.Graph) ([]*step.Graph, error) {
	var (
		results = make([]*step.Graph, len(graphs))
		sem     = semaphore.NewWeighted(int64(p.config.MaxConcurrentPlans))
	)

	eg, egCtx := errgroup.WithContext(ctx)
	for i, g := range graphs {
		if err := sem.Acquire(egCtx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer sem.Release(1)

			steps, err := p.Plan(egCtx, g)
			if err != nil {
				return fmt.Errorf("graph %d: %w", i, err)
			}
			results[i] = steps
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
