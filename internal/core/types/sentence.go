package types

import (
	"fmt"
	"math"
	"sort"
)

type Token struct {
	// Line is the source line exactly as it appeared in the input, without its line terminator.
	Line    string
	Columns []string
	Tag     string
}

func (t Token) Text() string {
	if len(t.Columns) == 0 {
		return ""
	}
	return t.Columns[0]
}

type Sentence struct {
	Index  int
	Tokens []Token
}

func (s Sentence) Tags() []string {
	tags := make([]string, len(s.Tokens))
	for i, tok := range s.Tokens {
		tags[i] = tok.Tag
	}
	return tags
}

type Dataset struct {
	// Header holds the first -DOCSTART- line of the input, if there was one.
	Header    string
	Sentences []Sentence
}

func (d *Dataset) Len() int {
	return len(d.Sentences)
}

func (d *Dataset) TokenCount() int {
	total := 0
	for _, s := range d.Sentences {
		total += len(s.Tokens)
	}
	return total
}

// TagCounts maps a tag label to its number of occurrences.
type TagCounts map[string]int

func (c TagCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

func (c TagCounts) Add(other TagCounts) {
	for tag, n := range other {
		c[tag] += n
	}
}

// Sub removes other from c. Tags that drop to zero are deleted so that a recount
// from scratch and an incrementally maintained snapshot compare equal.
func (c TagCounts) Sub(other TagCounts) {
	for tag, n := range other {
		c[tag] -= n
		if c[tag] == 0 {
			delete(c, tag)
		}
	}
}

func (c TagCounts) Clone() TagCounts {
	out := make(TagCounts, len(c))
	for tag, n := range c {
		out[tag] = n
	}
	return out
}

func (c TagCounts) SortedTags() []string {
	tags := make([]string, 0, len(c))
	for tag := range c {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Targets maps a tag label to the number of occurrences the balanced dataset should have.
type Targets map[string]int

// MaxTarget bounds a single target so that badness sums cannot overflow.
const MaxTarget = math.MaxInt32

func (t Targets) Validate() error {
	for tag, target := range t {
		if tag == "" {
			return NewConfigError(tag, "tag label must not be empty")
		}
		if target < 0 {
			return NewConfigError(tag, "target must be non-negative")
		}
		if target > MaxTarget {
			return NewConfigError(tag, fmt.Sprintf("target must not exceed %d", MaxTarget))
		}
	}
	return nil
}
