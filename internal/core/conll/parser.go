package conll

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"ner-balancer/internal/core/types"
)

const (
	DocStartPrefix = "-DOCSTART-"

	// LastColumn selects the final column of each line as the tag.
	LastColumn = -1

	maxLineBytes = 1024 * 1024
)

type ParseOptions struct {
	// TagColumn is the 0-based column holding the tag. Negative values count from
	// the end, so -1 is the last column.
	TagColumn int
}

func DefaultParseOptions() ParseOptions {
	return ParseOptions{TagColumn: LastColumn}
}

func Parse(text string, opts ParseOptions) (*types.Dataset, error) {
	return ParseReader(strings.NewReader(text), opts)
}

func ParseReader(r io.Reader, opts ParseOptions) (*types.Dataset, error) {
	p := parser{opts: opts, dataset: &types.Dataset{}}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := p.line(lineNo, strings.TrimRight(scanner.Text(), "\r")); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading conll input after line %d: %w", lineNo, err)
	}

	p.endSentence()

	return p.dataset, nil
}

type parser struct {
	opts    ParseOptions
	dataset *types.Dataset
	current []types.Token
	columns int
}

func (p *parser) line(lineNo int, line string) error {
	trimmed := strings.TrimSpace(line)

	if trimmed == "" {
		p.endSentence()
		return nil
	}

	if strings.HasPrefix(trimmed, DocStartPrefix) {
		p.endSentence()
		if p.dataset.Header == "" {
			p.dataset.Header = line
		}
		return nil
	}

	columns := strings.Fields(trimmed)
	if len(columns) < 2 {
		return types.NewFormatError(lineNo, "expected at least 2 columns (token and tag), found %d", len(columns))
	}

	if p.columns == 0 {
		p.columns = len(columns)
	} else if len(columns) != p.columns {
		return types.NewFormatError(lineNo, "expected %d columns, found %d", p.columns, len(columns))
	}

	tagIdx := p.opts.TagColumn
	if tagIdx < 0 {
		tagIdx += len(columns)
	}
	if tagIdx < 0 || tagIdx >= len(columns) {
		return types.NewFormatError(lineNo, "tag column %d is out of range for %d columns", p.opts.TagColumn, len(columns))
	}

	p.current = append(p.current, types.Token{
		Line:    line,
		Columns: columns,
		Tag:     columns[tagIdx],
	})

	return nil
}

func (p *parser) endSentence() {
	if len(p.current) == 0 {
		return
	}
	p.dataset.Sentences = append(p.dataset.Sentences, types.Sentence{
		Index:  len(p.dataset.Sentences),
		Tokens: p.current,
	})
	p.current = nil
}
