package core

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"ner-balancer/internal/core/balancer"
	"ner-balancer/internal/core/conll"
	"ner-balancer/internal/core/types"
)

const progressLogInterval = 100

type BalanceOptions struct {
	// TagColumn is passed to the CoNLL parser, conll.LastColumn by default.
	TagColumn     int
	MaxIterations int
	IgnoreTags    []string
	Strict        bool

	// Progress is called after every refinement iteration.
	Progress func(balancer.IterationState)
}

func DefaultBalanceOptions() BalanceOptions {
	return BalanceOptions{TagColumn: conll.LastColumn}
}

type Output struct {
	Text    string
	Stats   balancer.Stats
	Result  *balancer.Result
	Dataset *types.Dataset
}

// Balance parses a CoNLL dataset, selects the subset of sentences closest to the
// target tag counts and returns the selected sentences in CoNLL form with their stats.
// Each call owns all of its state, so concurrent calls are independent.
func Balance(ctx context.Context, datasetText string, targets types.Targets, opts BalanceOptions) (*Output, error) {
	dataset, err := conll.Parse(datasetText, conll.ParseOptions{TagColumn: opts.TagColumn})
	if err != nil {
		return nil, err
	}

	return BalanceDataset(ctx, dataset, targets, opts)
}

func BalanceDataset(ctx context.Context, dataset *types.Dataset, targets types.Targets, opts BalanceOptions) (*Output, error) {
	observer := func(state balancer.IterationState) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("balancing interrupted at iteration %d: %w", state.Iteration, err)
		}
		if state.Iteration%progressLogInterval == 0 {
			slog.Debug("balancing progress", "iteration", state.Iteration, "badness", state.Badness, "best_badness", state.BestBadness, "selected", len(state.Selection))
		}
		if opts.Progress != nil {
			opts.Progress(state)
		}
		return nil
	}

	result, err := balancer.Balance(dataset, targets, balancer.Options{
		MaxIterations: opts.MaxIterations,
		IgnoreTags:    opts.IgnoreTags,
		Strict:        opts.Strict,
		Observer:      observer,
	})
	if err != nil {
		return nil, err
	}

	if !result.Converged {
		slog.Warn("balancing stopped at iteration cap before converging", "iterations", result.Iterations, "badness", result.Badness)
	}

	slog.Info("balanced dataset", "sentences", dataset.Len(), "selected", len(result.Selection), "badness", result.Badness, "iterations", result.Iterations, "converged", result.Converged)

	return &Output{
		Text:    conll.Serialize(result.Selection, dataset),
		Stats:   balancer.Report(result),
		Result:  result,
		Dataset: dataset,
	}, nil
}

// DatasetStats reports the tag counts of a whole dataset against optional targets,
// without running the balancer. Ignored tags are left out of both counts and targets.
func DatasetStats(dataset *types.Dataset, targets types.Targets, ignoreTags ...string) balancer.Stats {
	selection := make([]int, dataset.Len())
	for i := range selection {
		selection[i] = i
	}

	counts := balancer.Count(dataset.Sentences, ignoreTags...)
	scoringTargets := make(types.Targets, len(targets))
	for tag, target := range targets {
		if !slices.Contains(ignoreTags, tag) {
			scoringTargets[tag] = target
		}
	}

	return balancer.Report(&balancer.Result{
		Selection:        selection,
		Counts:           counts,
		Targets:          scoringTargets,
		Badness:          balancer.Badness(counts, scoringTargets),
		Converged:        true,
		DatasetSentences: dataset.Len(),
	})
}
