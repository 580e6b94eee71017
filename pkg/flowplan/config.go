package flowplan

import (
	"errors"
	"flag"
	"fmt"

	"github.com/grafana/flowplan/pkg/flowplan/rewrite"
)

// Config configures a [Planner].
type Config struct {
	// MaxPhaseIterations bounds the number of rule applications per phase.
	MaxPhaseIterations int `yaml:"max_phase_iterations"`

	// MatcherParallelism is the number of goroutines used to search for the
	// matches of a single rule.
	MatcherParallelism int `yaml:"matcher_parallelism"`

	// MaxConcurrentPlans bounds the number of graphs planned at once by
	// [Planner.PlanAll].
	MaxConcurrentPlans int `yaml:"max_concurrent_plans"`

	// FinderCacheSize is the number of compiled rule patterns kept per
	// planner.
	FinderCacheSize int `yaml:"finder_cache_size"`
}

// RegisterFlagsWithPrefix registers flags for cfg, each prefixed with prefix.
func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.MaxPhaseIterations, prefix+"max-phase-iterations", rewrite.DefaultMaxIterations, "Maximum number of rule applications in a single planning phase before planning is considered divergent.")
	f.IntVar(&cfg.MatcherParallelism, prefix+"matcher-parallelism", 1, "Number of goroutines used to search for the matches of a rule. A value of 1 disables parallel matching.")
	f.IntVar(&cfg.MaxConcurrentPlans, prefix+"max-concurrent-plans", 4, "Maximum number of element graphs planned concurrently.")
	f.IntVar(&cfg.FinderCacheSize, prefix+"finder-cache-size", 128, "Number of compiled rule patterns cached by a planner.")
}

// DefaultConfig returns the configuration registered as flag defaults.
func DefaultConfig() Config {
	var cfg Config
	cfg.RegisterFlagsWithPrefix("", flag.NewFlagSet("", flag.PanicOnError))
	return cfg
}

// Validate returns an error if cfg is unusable.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.MaxPhaseIterations <= 0 {
		errs = append(errs, fmt.Errorf("max_phase_iterations must be greater than 0, got %d", cfg.MaxPhaseIterations))
	}
	if cfg.MatcherParallelism <= 0 {
		errs = append(errs, fmt.Errorf("matcher_parallelism must be greater than 0, got %d", cfg.MatcherParallelism))
	}
	if cfg.MaxConcurrentPlans <= 0 {
		errs = append(errs, fmt.Errorf("max_concurrent_plans must be greater than 0, got %d", cfg.MaxConcurrentPlans))
	}
	if cfg.FinderCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("finder_cache_size must be greater than 0, got %d", cfg.FinderCacheSize))
	}
	return errors.Join(errs...)
}
