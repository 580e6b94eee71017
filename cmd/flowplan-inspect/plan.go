package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"gopkg.in/yaml.v3"

	"github.com/grafana/flowplan/pkg/flowplan"
	"github.com/grafana/flowplan/pkg/flowplan/graph"
	"github.com/grafana/flowplan/pkg/flowplan/graphfile"
	"github.com/grafana/flowplan/pkg/flowplan/rules"
	"github.com/grafana/flowplan/pkg/flowplan/step"
)

// planCommand plans each element graph and prints its steps.
type planCommand struct {
	files      *[]string
	configFile *string
	logLevel   *string
	outputDir  *string
	maxPlans   *int
}

func (cmd *planCommand) run(_ *kingpin.ParseContext) error {
	cfg, err := cmd.config()
	if err != nil {
		exitWithErr(err)
	}

	graphs := make([]*graph.Graph, 0, len(*cmd.files))
	for _, name := range *cmd.files {
		g, err := loadGraph(name)
		if err != nil {
			exitWithErr(fmt.Errorf("%s: %w", name, err))
		}
		graphs = append(graphs, g)
	}

	planner, err := flowplan.New(flowplan.Params{
		Logger: cmd.logger(),
		Config: cfg,
	})
	if err != nil {
		exitWithErr(err)
	}

	results, err := planner.PlanAll(context.Background(), graphs)
	if err != nil {
		exitWithErr(fmt.Errorf("planning failed: %w", err))
	}

	bold := color.New(color.Bold)
	for i, steps := range results {
		name := (*cmd.files)[i]
		bold.Printf("%s:\n", name)
		fmt.Printf(
			"\tcatalog: %s, nodes: %s -> %s, steps: %d, dependencies: %d\n",
			rules.CatalogVersion,
			humanize.Comma(int64(graphs[i].Len())),
			humanize.Comma(int64(steps.Elements().Len())),
			steps.Len(),
			len(steps.Dependencies()),
		)
		fmt.Println(step.Sprint(steps))

		if *cmd.outputDir != "" {
			if err := writePlanned(filepath.Join(*cmd.outputDir, filepath.Base(name)), steps.Elements()); err != nil {
				exitWithErr(err)
			}
		}
	}
	return nil
}

// config returns the planner configuration: flag defaults, overridden by the
// config file, overridden by command line flags.
func (cmd *planCommand) config() (flowplan.Config, error) {
	cfg := flowplan.DefaultConfig()
	if *cmd.configFile != "" {
		buf, err := os.ReadFile(*cmd.configFile)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if *cmd.maxPlans > 0 {
		cfg.MaxConcurrentPlans = *cmd.maxPlans
	}
	return cfg, cfg.Validate()
}

func (cmd *planCommand) logger() log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	var allow level.Option
	switch *cmd.logLevel {
	case "debug":
		allow = level.AllowDebug()
	case "warn":
		allow = level.AllowWarn()
	case "error":
		allow = level.AllowError()
	default:
		allow = level.AllowInfo()
	}
	return level.NewFilter(logger, allow)
}

func writePlanned(path string, g *graph.Graph) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := graphfile.Encode(f, g); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write planned graph: %w", err)
	}
	return f.Close()
}

func addPlanCommand(app *kingpin.Application) {
	cmd := &planCommand{}
	plan := app.Command("plan", "Plan element graphs and print the resulting steps.").Action(cmd.run)
	cmd.configFile = plan.Flag("config.file", "YAML file with the planner configuration.").String()
	cmd.logLevel = plan.Flag("log.level", "Only log messages with the given severity or above.").Default("warn").Enum("debug", "info", "warn", "error")
	cmd.outputDir = plan.Flag("output", "Directory to write the planned element graphs to.").ExistingDir()
	cmd.maxPlans = plan.Flag("max-concurrent-plans", "Maximum number of graphs planned at once. Overrides the config file.").Int()
	cmd.files = plan.Arg("file", "The graph files to plan.").Required().ExistingFiles()
}
