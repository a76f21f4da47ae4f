package balancer

import (
	"fmt"

	"ner-balancer/internal/core/types"
)

const DefaultMaxIterations = 10000

type State int

const (
	Scanning State = iota
	Improving
	Converged
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Improving:
		return "improving"
	case Converged:
		return "converged"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IterationState is passed to Options.Observer after every refinement iteration.
type IterationState struct {
	Iteration   int
	State       State
	Selection   []int
	Counts      types.TagCounts
	Badness     int
	BestBadness int
	Removed     int // index of the sentence removed this iteration, or -1
	Added       int // index of the sentence added this iteration, or -1
}

type Options struct {
	// MaxIterations bounds the refinement loop. Zero selects DefaultMaxIterations.
	MaxIterations int

	// IgnoreTags are excluded from counting, scoring and reporting.
	IgnoreTags []string

	// Strict turns an empty dataset into an error instead of an empty result.
	Strict bool

	// Observer, if set, is called after each iteration. A non-nil error aborts
	// balancing and is returned to the caller.
	Observer func(IterationState) error
}

type Result struct {
	Selection        []int
	Counts           types.TagCounts
	Targets          types.Targets
	Badness          int
	Iterations       int
	Converged        bool
	DatasetSentences int
}

func (r *Result) Diffs() map[string]int {
	diffs := make(map[string]int, len(r.Targets)+len(r.Counts))
	for tag, target := range r.Targets {
		diffs[tag] = r.Counts[tag] - target
	}
	for tag, count := range r.Counts {
		if _, ok := r.Targets[tag]; !ok {
			diffs[tag] = count
		}
	}
	return diffs
}

type engine struct {
	targets        types.Targets
	sentenceCounts []types.TagCounts

	selected []bool
	counts   types.TagCounts
	badness  int

	best        []bool
	bestCounts  types.TagCounts
	bestBadness int

	iterations int
	converged  bool
	state      State

	removed int
	added   int
}

// Balance selects the subset of the dataset's sentences whose combined tag counts
// are closest to targets that a greedy add/remove search can find. The returned
// selection is sorted and is never worse than any selection visited during the search.
func Balance(dataset *types.Dataset, targets types.Targets, opts Options) (*Result, error) {
	if err := targets.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxIterations < 0 {
		return nil, types.NewConfigError("", "max iterations must be non-negative")
	}

	maxIterations := opts.MaxIterations
	if maxIterations == 0 {
		maxIterations = DefaultMaxIterations
	}

	ignore := ignoreSet(opts.IgnoreTags)

	scoringTargets := make(types.Targets, len(targets))
	for tag, target := range targets {
		if _, ok := ignore[tag]; !ok {
			scoringTargets[tag] = target
		}
	}

	if dataset.Len() == 0 {
		if opts.Strict {
			return nil, &types.EmptyInputError{}
		}
		return &Result{
			Selection: []int{},
			Counts:    types.TagCounts{},
			Targets:   scoringTargets,
			Badness:   Badness(types.TagCounts{}, scoringTargets),
			Converged: true,
		}, nil
	}

	e := newEngine(dataset, scoringTargets, ignore)

	if len(scoringTargets) == 0 {
		return e.result(scoringTargets, 0, true), nil
	}

	if err := e.run(maxIterations, opts.Observer); err != nil {
		return nil, err
	}

	return e.result(scoringTargets, e.iterations, e.converged), nil
}

func newEngine(dataset *types.Dataset, targets types.Targets, ignore map[string]struct{}) *engine {
	e := &engine{
		targets:        targets,
		sentenceCounts: make([]types.TagCounts, dataset.Len()),
		selected:       make([]bool, dataset.Len()),
		counts:         make(types.TagCounts),
		removed:        -1,
		added:          -1,
	}

	for i, s := range dataset.Sentences {
		e.sentenceCounts[i] = countSentence(s, ignore)
		e.selected[i] = true
		e.counts.Add(e.sentenceCounts[i])
	}
	e.badness = Badness(e.counts, targets)
	e.saveBest()

	return e
}

func (e *engine) run(maxIterations int, observer func(IterationState) error) error {
	e.state = Scanning

	for e.state != Converged {
		switch e.state {
		case Scanning:
			if e.iterations >= maxIterations {
				e.converged = false
				e.state = Converged
				continue
			}

			e.iterations++
			e.removed = e.removePass()
			e.added = e.addPass()

			if e.removed >= 0 || e.added >= 0 {
				e.state = Improving
				continue
			}

			e.converged = true
			e.state = Converged

		case Improving:
			if e.badness < e.bestBadness {
				e.saveBest()
			}
		}

		if observer != nil {
			if err := observer(e.snapshot()); err != nil {
				return err
			}
		}

		if e.state == Improving {
			e.state = Scanning
		}
	}

	return nil
}

// removePass drops the selected sentence whose removal reduces badness the most.
// It returns the index of the removed sentence or -1 when no removal helps.
func (e *engine) removePass() int {
	best, bestGain := -1, 0
	for i, sc := range e.sentenceCounts {
		if !e.selected[i] || !hasOverRepresented(sc, e.counts, e.targets) {
			continue
		}
		// Strictly greater keeps the lowest index on ties.
		if gain := removalGain(sc, e.counts, e.targets); gain > bestGain {
			best, bestGain = i, gain
		}
	}

	if best >= 0 {
		e.selected[best] = false
		e.counts.Sub(e.sentenceCounts[best])
		e.badness -= bestGain
	}
	return best
}

// addPass is the mirror of removePass over the unselected sentences.
func (e *engine) addPass() int {
	best, bestGain := -1, 0
	for i, sc := range e.sentenceCounts {
		if e.selected[i] || !hasUnderRepresented(sc, e.counts, e.targets) {
			continue
		}
		if gain := additionGain(sc, e.counts, e.targets); gain > bestGain {
			best, bestGain = i, gain
		}
	}

	if best >= 0 {
		e.selected[best] = true
		e.counts.Add(e.sentenceCounts[best])
		e.badness -= bestGain
	}
	return best
}

func (e *engine) saveBest() {
	e.best = append(e.best[:0], e.selected...)
	e.bestCounts = e.counts.Clone()
	e.bestBadness = e.badness
}

func (e *engine) snapshot() IterationState {
	return IterationState{
		Iteration:   e.iterations,
		State:       e.state,
		Selection:   indices(e.selected),
		Counts:      e.counts.Clone(),
		Badness:     e.badness,
		BestBadness: e.bestBadness,
		Removed:     e.removed,
		Added:       e.added,
	}
}

func (e *engine) result(targets types.Targets, iterations int, converged bool) *Result {
	return &Result{
		Selection:        indices(e.best),
		Counts:           e.bestCounts.Clone(),
		Targets:          targets,
		Badness:          e.bestBadness,
		Iterations:       iterations,
		Converged:        converged,
		DatasetSentences: len(e.selected),
	}
}

func indices(mask []bool) []int {
	out := make([]int, 0, len(mask))
	for i, ok := range mask {
		if ok {
			out = append(out, i)
		}
	}
	return out
}
