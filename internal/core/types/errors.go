package types

import (
	"errors"
	"fmt"
)

var (
	ErrFormat     = errors.New("invalid conll format")
	ErrConfig     = errors.New("invalid balancing config")
	ErrEmptyInput = errors.New("dataset contains no sentences")
)

// FormatError reports malformed CoNLL input. Line is 1-based.
type FormatError struct {
	Line   int
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid conll format at line %d: %s", e.Line, e.Reason)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

func NewFormatError(line int, format string, args ...any) *FormatError {
	return &FormatError{Line: line, Reason: fmt.Sprintf(format, args...)}
}

type ConfigError struct {
	Tag    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Tag == "" {
		return fmt.Sprintf("invalid balancing config: %s", e.Reason)
	}
	return fmt.Sprintf("invalid balancing config for tag '%s': %s", e.Tag, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

func NewConfigError(tag string, reason string) *ConfigError {
	return &ConfigError{Tag: tag, Reason: reason}
}

type EmptyInputError struct{}

func (e *EmptyInputError) Error() string {
	return ErrEmptyInput.Error()
}

func (e *EmptyInputError) Is(target error) bool {
	return target == ErrEmptyInput
}
