package balancer

import (
	"fmt"
	"sort"
)

type TagStat struct {
	Tag    string `json:"tag"`
	Count  int    `json:"count"`
	Target int    `json:"target"`
	Diff   int    `json:"diff"`
}

func (s TagStat) String() string {
	return fmt.Sprintf("%s: %d (target: %d, diff: %d)", s.Tag, s.Count, s.Target, s.Diff)
}

type Summary struct {
	TotalSentences int `json:"total_sentences"`
	TotalTags      int `json:"total_tags"`
}

type Stats struct {
	Tags      []TagStat `json:"tags"`
	Formatted []string  `json:"formatted"`
	Summary   Summary   `json:"summary"`

	Badness          int  `json:"badness"`
	Iterations       int  `json:"iterations"`
	Converged        bool `json:"converged"`
	DatasetSentences int  `json:"dataset_sentences"`
}

// TagMap returns the per-tag records keyed by tag.
func (s Stats) TagMap() map[string]TagStat {
	out := make(map[string]TagStat, len(s.Tags))
	for _, t := range s.Tags {
		out[t.Tag] = t
	}
	return out
}

// Report builds per-tag records for every tag that has a target or occurs in the
// selection, sorted by tag, together with the selection summary.
func Report(result *Result) Stats {
	tagSet := make(map[string]struct{}, len(result.Targets)+len(result.Counts))
	for tag := range result.Targets {
		tagSet[tag] = struct{}{}
	}
	for tag := range result.Counts {
		tagSet[tag] = struct{}{}
	}

	tags := make([]string, 0, len(tagSet))
	for tag := range tagSet {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	stats := Stats{
		Tags:      make([]TagStat, 0, len(tags)),
		Formatted: make([]string, 0, len(tags)),
		Summary: Summary{
			TotalSentences: len(result.Selection),
			TotalTags:      result.Counts.Total(),
		},
		Badness:          result.Badness,
		Iterations:       result.Iterations,
		Converged:        result.Converged,
		DatasetSentences: result.DatasetSentences,
	}

	for _, tag := range tags {
		count, target := result.Counts[tag], result.Targets[tag]
		stat := TagStat{Tag: tag, Count: count, Target: target, Diff: count - target}
		stats.Tags = append(stats.Tags, stat)
		stats.Formatted = append(stats.Formatted, stat.String())
	}

	return stats
}
