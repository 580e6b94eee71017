package main

import (
	"fmt"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

// validateCommand checks that each file holds a valid element graph.
type validateCommand struct {
	files *[]string
}

func (cmd *validateCommand) run(_ *kingpin.ParseContext) error {
	var (
		ok      = color.New(color.FgGreen)
		invalid = color.New(color.FgRed, color.Bold)
		failed  int
	)
	for _, name := range *cmd.files {
		g, err := loadGraph(name)
		if err == nil {
			err = g.Validate()
		}
		if err != nil {
			failed++
			invalid.Printf("%s: ", name)
			fmt.Println(err)
			continue
		}
		ok.Printf("%s: ", name)
		fmt.Printf("valid, %s nodes, %s scopes\n", humanize.Comma(int64(g.Len())), humanize.Comma(int64(g.ScopeLen())))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d graphs are invalid", failed, len(*cmd.files))
	}
	return nil
}

func addValidateCommand(app *kingpin.Application) {
	cmd := &validateCommand{}
	validate := app.Command("validate", "Check that element graph files are well formed.").Action(cmd.run)
	cmd.files = validate.Arg("file", "The graph files to validate.").Required().ExistingFiles()
}
