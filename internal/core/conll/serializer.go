package conll

import (
	"io"
	"sort"
	"strings"

	"ner-balancer/internal/core/types"
)

// Serialize writes the selected sentences of the dataset back out in their original
// form. Sentences are emitted in dataset order regardless of the order of selection.
func Serialize(selection []int, dataset *types.Dataset) string {
	var sb strings.Builder
	// strings.Builder never returns a write error.
	_ = Write(&sb, selection, dataset)
	return sb.String()
}

func Write(w io.Writer, selection []int, dataset *types.Dataset) error {
	indices := make([]int, 0, len(selection))
	seen := make(map[int]struct{}, len(selection))
	for _, idx := range selection {
		if idx < 0 || idx >= len(dataset.Sentences) {
			continue
		}
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	first := true
	if dataset.Header != "" {
		if _, err := io.WriteString(w, dataset.Header+"\n"); err != nil {
			return err
		}
		first = false
	}

	for _, idx := range indices {
		if !first {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		first = false

		for _, tok := range dataset.Sentences[idx].Tokens {
			if _, err := io.WriteString(w, tok.Line+"\n"); err != nil {
				return err
			}
		}
	}

	return nil
}
