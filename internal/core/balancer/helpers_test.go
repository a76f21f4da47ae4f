package balancer_test

import (
	"fmt"
	"strings"
	"testing"

	"ner-balancer/internal/core/conll"
	"ner-balancer/internal/core/types"

	"github.com/stretchr/testify/require"
)

// repeat expands tag/count pairs into a tag sequence, e.g. repeat("B-ORG", 2, "O", 1).
func repeat(pairs ...any) []string {
	var tags []string
	for i := 0; i < len(pairs); i += 2 {
		tag := pairs[i].(string)
		for j := 0; j < pairs[i+1].(int); j++ {
			tags = append(tags, tag)
		}
	}
	return tags
}

func conllText(sentences ...[]string) string {
	blocks := make([]string, 0, len(sentences))
	for i, tags := range sentences {
		var sb strings.Builder
		for j, tag := range tags {
			fmt.Fprintf(&sb, "tok%d_%d %s\n", i, j, tag)
		}
		blocks = append(blocks, sb.String())
	}
	return strings.Join(blocks, "\n")
}

func makeDataset(t *testing.T, sentences ...[]string) *types.Dataset {
	t.Helper()
	dataset, err := conll.Parse(conllText(sentences...), conll.DefaultParseOptions())
	require.NoError(t, err)
	require.Len(t, dataset.Sentences, len(sentences))
	return dataset
}

// scenarioDataset has sentence tag counts {B-ORG:2, O:5}, {B-ORG:1}, {O:3}, {B-ORG:3, O:1}.
func scenarioDataset(t *testing.T) *types.Dataset {
	return makeDataset(t,
		repeat("B-ORG", 2, "O", 5),
		repeat("B-ORG", 1),
		repeat("O", 3),
		repeat("B-ORG", 3, "O", 1),
	)
}
