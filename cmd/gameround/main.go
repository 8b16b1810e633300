package main

import (
	"github.com/alecthomas/kong"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version  kong.VersionFlag `short:"v" help:"Show version"`
	Simulate SimulateCmd      `cmd:"" help:"Drive simulated rounds through the lifecycle controller"`
	Monitor  MonitorCmd       `cmd:"" help:"Stream or watch live round events"`
	History  HistoryCmd       `cmd:"" help:"Inspect the round history ring in a store file"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("gameround"),
		kong.Description("Game-round lifecycle controller for electronic gaming machines"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
