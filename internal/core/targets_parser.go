package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ner-balancer/internal/core/types"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"gopkg.in/yaml.v2"
)

/*
Target expressions are a compact alternative to a JSON object:

Targets := ( Target ","? )*
Target  := ( <tag> | <string> ) ( "=" | ":" ) <int>

e.g. `B-ORG=300, I-ORG=250, "B-product name": 40`. Commas are optional, so one
target per line also parses.
*/

var (
	targetLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "String", Pattern: `"(?:\\.|[^"])*"`},
		{Name: "Int", Pattern: `-?\d+`},
		{Name: "Tag", Pattern: `[^\s,=:"\d-][^\s,=:"]*`},
		{Name: "Punct", Pattern: `[,=:]`},
		{Name: "Whitespace", Pattern: `\s+`},
	})

	targetParser = participle.MustBuild[TargetList](
		participle.Lexer(targetLexer),
		participle.Unquote("String"),
		participle.Elide("Whitespace"),
	)
)

type TargetList struct {
	Entries []*TargetEntry `( @@ ","? )*`
}

type TargetEntry struct {
	Tag   string `( @Tag | @String )`
	Value int    `( "=" | ":" ) @Int`
}

func (l *TargetList) ToTargets() (types.Targets, error) {
	targets := make(types.Targets, len(l.Entries))
	for _, e := range l.Entries {
		if _, ok := targets[e.Tag]; ok {
			return nil, types.NewConfigError(e.Tag, "tag listed more than once")
		}
		targets[e.Tag] = e.Value
	}
	if err := targets.Validate(); err != nil {
		return nil, err
	}
	return targets, nil
}

func (l *TargetList) String() string {
	parts := make([]string, 0, len(l.Entries))
	for _, e := range l.Entries {
		parts = append(parts, fmt.Sprintf("%s=%d", e.Tag, e.Value))
	}
	return strings.Join(parts, ", ")
}

// TargetSyntaxError reports target input that could not be parsed at all, as
// opposed to parsed targets with invalid values. It matches types.ErrConfig.
type TargetSyntaxError struct {
	Input string
	Err   error
}

func (e *TargetSyntaxError) Error() string {
	return fmt.Sprintf("error parsing target frequencies '%s': %v", e.Input, e.Err)
}

func (e *TargetSyntaxError) Unwrap() []error {
	return []error{types.ErrConfig, e.Err}
}

// ParseTargets accepts either a JSON object of tag to count or a target expression.
func ParseTargets(input string) (types.Targets, error) {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{") {
		return parseJSONTargets([]byte(trimmed))
	}

	list, err := targetParser.ParseString("", trimmed)
	if err != nil {
		return nil, &TargetSyntaxError{Input: input, Err: err}
	}

	return list.ToTargets()
}

func parseJSONTargets(data []byte) (types.Targets, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, &TargetSyntaxError{Input: string(data), Err: err}
	}
	if decoder.More() {
		return nil, &TargetSyntaxError{Input: string(data), Err: errors.New("unexpected data after target object")}
	}

	targets := make(types.Targets, len(raw))
	for tag, value := range raw {
		num, ok := value.(json.Number)
		if !ok {
			return nil, types.NewConfigError(tag, fmt.Sprintf("target must be an integer, got %v", value))
		}
		n, err := num.Int64()
		if err != nil {
			return nil, types.NewConfigError(tag, fmt.Sprintf("target must be an integer, got %v", num))
		}
		targets[tag] = int(n)
	}

	if err := targets.Validate(); err != nil {
		return nil, err
	}
	return targets, nil
}

// LoadTargets reads targets from a .yaml/.yml or .json file; any other extension is
// parsed as a target expression.
func LoadTargets(path string) (types.Targets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading targets file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var targets types.Targets
		if err := yaml.UnmarshalStrict(data, &targets); err != nil {
			return nil, &types.ConfigError{Reason: fmt.Sprintf("invalid targets yaml in %s: %v", path, err)}
		}
		if targets == nil {
			targets = types.Targets{}
		}
		if err := targets.Validate(); err != nil {
			return nil, err
		}
		return targets, nil
	case ".json":
		return parseJSONTargets(data)
	default:
		return ParseTargets(string(data))
	}
}
