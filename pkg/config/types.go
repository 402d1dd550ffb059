package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Format is an attribute file format.
type Format string

const (
	FormatCUE   Format = "cue"
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
	FormatJSONC Format = "jsonc"
)

// FormatOf returns the format for a file name, or "" when unsupported.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	case ".jsonc":
		return FormatJSONC
	default:
		return ""
	}
}

// Document is a node attribute tree assembled from one or more files.
type Document struct {
	// Attributes is the merged attribute tree.
	Attributes map[string]interface{} `json:"attributes"`

	// SourceFiles are the files that were read, in merge order.
	SourceFiles []string `json:"source_files"`

	// Overrides is the override script applied, if any.
	Overrides string `json:"overrides,omitempty"`

	// ParsedAt is when the document was assembled.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any parse or schema errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// Err folds Errors into a single error, or returns nil.
func (d *Document) Err() error {
	if len(d.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(d.Errors))
	for i, e := range d.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%d attribute errors: %s", len(d.Errors), strings.Join(msgs, "; "))
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the attribute path to the error (e.g., "rsyslog.port").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

func (e ValidationError) Error() string {
	var loc string
	switch {
	case e.File != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", e.File, e.Line, e.Column)
	case e.File != "":
		loc = e.File + ": "
	case e.Path != "":
		loc = e.Path + ": "
	}
	return loc + e.Message
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output holds the script's top-level globals.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
