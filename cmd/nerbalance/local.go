package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"ner-balancer/internal/core"
	"ner-balancer/internal/core/balancer"
	"ner-balancer/internal/core/conll"
	"ner-balancer/internal/core/types"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
)

var (
	inputFlag = &cli.StringFlag{
		Name:     "input",
		Aliases:  []string{"i"},
		Usage:    "CoNLL dataset to read",
		Required: true,
	}
	targetsFlag = &cli.StringFlag{
		Name:    "targets",
		Aliases: []string{"t"},
		Usage:   `target frequencies, e.g. 'B-ORG=300, O=5000' or '{"B-ORG": 300}'`,
	}
	targetsFileFlag = &cli.StringFlag{
		Name:  "targets-file",
		Usage: "yaml or json file mapping tags to target frequencies",
	}
	tagColumnFlag = &cli.IntFlag{
		Name:  "tag-column",
		Usage: "zero based column holding the tag, negative values count from the end",
		Value: conll.LastColumn,
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "print stats as json",
	}
)

// readTargets resolves --targets or --targets-file. When optional is set both may
// be absent and nil targets are returned.
func readTargets(cCtx *cli.Context, optional bool) (types.Targets, error) {
	expr, file := cCtx.String("targets"), cCtx.String("targets-file")
	switch {
	case expr != "" && file != "":
		return nil, errors.New("only one of --targets and --targets-file may be set")
	case expr != "":
		return core.ParseTargets(expr)
	case file != "":
		return core.LoadTargets(file)
	case optional:
		return nil, nil
	default:
		return nil, errors.New("one of --targets or --targets-file is required")
	}
}

func readDataset(path string, tagColumn int) (*types.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening dataset: %w", err)
	}
	defer f.Close()

	dataset, err := conll.ParseReader(f, conll.ParseOptions{TagColumn: tagColumn})
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	return dataset, nil
}

func printStats(w io.Writer, stats balancer.Stats, asJson bool) error {
	if asJson {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(stats)
	}

	for _, line := range stats.Formatted {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "sentences: %d of %d\n", stats.Summary.TotalSentences, stats.DatasetSentences)
	fmt.Fprintf(w, "tags: %d\n", stats.Summary.TotalTags)
	fmt.Fprintf(w, "badness: %d\n", stats.Badness)
	if stats.Iterations > 0 || !stats.Converged {
		fmt.Fprintf(w, "iterations: %d (converged: %t)\n", stats.Iterations, stats.Converged)
	}
	return nil
}

func balanceCommand(ui UI) *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "balance a local dataset and write the selected sentences",
		Flags: []cli.Flag{
			inputFlag,
			targetsFlag,
			targetsFileFlag,
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "file to write the balanced dataset to", Required: true},
			&cli.IntFlag{Name: "max-iterations", Usage: "refinement iteration cap", Value: balancer.DefaultMaxIterations},
			&cli.StringSliceFlag{Name: "ignore", Usage: "tags excluded from counting, repeatable"},
			tagColumnFlag,
			&cli.BoolFlag{Name: "strict", Usage: "fail on a dataset without sentences"},
			&cli.BoolFlag{Name: "progress", Usage: "show a progress bar"},
			jsonFlag,
		},
		Action: func(cCtx *cli.Context) error {
			targets, err := readTargets(cCtx, false)
			if err != nil {
				return err
			}

			dataset, err := readDataset(cCtx.String("input"), cCtx.Int("tag-column"))
			if err != nil {
				return err
			}

			opts := core.BalanceOptions{
				TagColumn:     cCtx.Int("tag-column"),
				MaxIterations: cCtx.Int("max-iterations"),
				IgnoreTags:    cCtx.StringSlice("ignore"),
				Strict:        cCtx.Bool("strict"),
			}
			if opts.MaxIterations < 0 {
				return fmt.Errorf("--max-iterations must be non-negative, got %d", opts.MaxIterations)
			}

			var bar *progressbar.ProgressBar
			if cCtx.Bool("progress") {
				total := opts.MaxIterations
				if total == 0 {
					total = balancer.DefaultMaxIterations
				}
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetWriter(ui.Err),
					progressbar.OptionSetDescription("⏳ balancing"),
					progressbar.OptionSetWidth(30),
					progressbar.OptionClearOnFinish(),
				)
				opts.Progress = func(state balancer.IterationState) {
					_ = bar.Set(state.Iteration)
				}
			}

			out, err := core.BalanceDataset(cCtx.Context, dataset, targets, opts)
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return err
			}

			if err := os.WriteFile(cCtx.String("output"), []byte(out.Text), 0644); err != nil {
				return fmt.Errorf("error writing output: %w", err)
			}

			return printStats(ui.Out, out.Stats, cCtx.Bool("json"))
		},
	}
}

func statsCommand(ui UI) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print the tag counts of a dataset, optionally against targets",
		Flags: []cli.Flag{
			inputFlag,
			targetsFlag,
			targetsFileFlag,
			tagColumnFlag,
			&cli.StringSliceFlag{Name: "ignore", Usage: "tags excluded from counting, repeatable"},
			jsonFlag,
		},
		Action: func(cCtx *cli.Context) error {
			targets, err := readTargets(cCtx, true)
			if err != nil {
				return err
			}

			dataset, err := readDataset(cCtx.String("input"), cCtx.Int("tag-column"))
			if err != nil {
				return err
			}

			return printStats(ui.Out, core.DatasetStats(dataset, targets, cCtx.StringSlice("ignore")...), cCtx.Bool("json"))
		},
	}
}
