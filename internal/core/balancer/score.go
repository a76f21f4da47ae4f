package balancer

import "ner-balancer/internal/core/types"

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Badness is the total absolute deviation of counts from targets, summed over the
// tags that have a target. Tags without a target do not contribute.
func Badness(counts types.TagCounts, targets types.Targets) int {
	total := 0
	for tag, target := range targets {
		total += abs(counts[tag] - target)
	}
	return total
}

// removalGain is the reduction in badness obtained by removing a sentence with the
// given tag counts from a selection whose current counts are given.
func removalGain(sentence, counts types.TagCounts, targets types.Targets) int {
	gain := 0
	for tag, c := range sentence {
		target, ok := targets[tag]
		if !ok {
			continue
		}
		excess := counts[tag] - target
		if excess > 0 {
			gain += min(excess, c) - max(0, c-excess)
		} else {
			gain -= c
		}
	}
	return gain
}

// additionGain is the reduction in badness obtained by adding a sentence.
func additionGain(sentence, counts types.TagCounts, targets types.Targets) int {
	gain := 0
	for tag, c := range sentence {
		target, ok := targets[tag]
		if !ok {
			continue
		}
		deficit := target - counts[tag]
		if deficit > 0 {
			gain += min(deficit, c) - max(0, c-deficit)
		} else {
			gain -= c
		}
	}
	return gain
}

func hasOverRepresented(sentence, counts types.TagCounts, targets types.Targets) bool {
	for tag := range sentence {
		if target, ok := targets[tag]; ok && counts[tag] > target {
			return true
		}
	}
	return false
}

func hasUnderRepresented(sentence, counts types.TagCounts, targets types.Targets) bool {
	for tag := range sentence {
		if target, ok := targets[tag]; ok && counts[tag] < target {
			return true
		}
	}
	return false
}
