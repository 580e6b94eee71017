package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/grafana/flowplan/pkg/flowplan/graph"
	"github.com/grafana/flowplan/pkg/flowplan/graphfile"
)

func main() {
	app := kingpin.New("flowplan-inspect", "A command-line tool to validate element graphs and inspect their plans.")
	app.HelpFlag.Short('h')

	addValidateCommand(app)
	addPlanCommand(app)

	kingpin.MustParse(app.Parse(os.Args[1:]))
}

// loadGraph reads the element graph stored in the named YAML file.
func loadGraph(name string) (*graph.Graph, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	g, err := graphfile.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph: %w", err)
	}
	return g, nil
}

func exitWithErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
