package balancer

import "ner-balancer/internal/core/types"

// Count tallies the tag of every token in the given sentences. Tokens whose tag
// is in ignoreTags are skipped, matching the engine's incremental counts.
func Count(sentences []types.Sentence, ignoreTags ...string) types.TagCounts {
	ignore := ignoreSet(ignoreTags)
	counts := make(types.TagCounts)
	for _, s := range sentences {
		for tag, c := range countSentence(s, ignore) {
			counts[tag] += c
		}
	}
	return counts
}

func CountSelection(dataset *types.Dataset, selection []int, ignoreTags ...string) types.TagCounts {
	sentences := make([]types.Sentence, 0, len(selection))
	for _, idx := range selection {
		sentences = append(sentences, dataset.Sentences[idx])
	}
	return Count(sentences, ignoreTags...)
}

func ignoreSet(tags []string) map[string]struct{} {
	ignore := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		ignore[tag] = struct{}{}
	}
	return ignore
}

func countSentence(s types.Sentence, ignore map[string]struct{}) types.TagCounts {
	counts := make(types.TagCounts)
	for _, tok := range s.Tokens {
		if _, ok := ignore[tok.Tag]; ok {
			continue
		}
		counts[tok.Tag]++
	}
	return counts
}
