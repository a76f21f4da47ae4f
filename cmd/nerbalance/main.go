package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
)

// UI contains the output streams of the cli, replaced with buffers in tests.
type UI struct {
	Out io.Writer
	Err io.Writer
}

func newApp(ui UI) *cli.App {
	return &cli.App{
		Name:      "nerbalance",
		Usage:     "select a subset of a CoNLL NER dataset matching target tag frequencies",
		Writer:    ui.Out,
		ErrWriter: ui.Err,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log balancing progress"},
		},
		Before: func(cCtx *cli.Context) error {
			level := slog.LevelWarn
			if cCtx.Bool("verbose") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(ui.Err, &slog.HandlerOptions{Level: level})))
			return nil
		},
		Commands: []*cli.Command{
			balanceCommand(ui),
			statsCommand(ui),
			submitCommand(ui),
			jobsCommand(ui),
		},
	}
}

func main() {
	ui := UI{Out: os.Stdout, Err: os.Stderr}

	if err := newApp(ui).Run(os.Args); err != nil {
		fmt.Fprintf(ui.Err, "nerbalance: %v\n", err)
		os.Exit(1)
	}
}
