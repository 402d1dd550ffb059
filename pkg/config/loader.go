package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/cookbooks/pkg/engine"
)

// Loader assembles node attribute documents from CUE, YAML, JSON and JSONC
// files, applies Starlark overrides and validates the result.
type Loader struct {
	parser   *CUEParser
	starlark *StarlarkEvaluator
	logger   zerolog.Logger
}

// NewLoader creates a loader. Override scripts are cancelled after timeout.
func NewLoader(logger zerolog.Logger, timeout time.Duration) *Loader {
	return &Loader{
		parser:   NewCUEParser(),
		starlark: NewStarlarkEvaluator(timeout),
		logger:   logger.With().Str("component", "config-loader").Logger(),
	}
}

// Load reads every path in order and deep-merges the documents, later files
// winning. Directories contribute their supported files in lexical order.
// CUE files are evaluated one at a time so a directory may mix formats.
func (l *Loader) Load(ctx context.Context, paths []string) (*Document, error) {
	if len(paths) == 0 {
		return nil, engine.NewValidationError("no attribute files given", nil)
	}

	files, err := expand(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, engine.NewValidationError("no attribute files found", nil).
			WithDetail("paths", paths)
	}

	doc := &Document{
		Attributes:  map[string]interface{}{},
		SourceFiles: files,
		ParsedAt:    time.Now(),
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attrs, errs, err := l.loadFile(ctx, file)
		if err != nil {
			return nil, err
		}
		if len(errs) > 0 {
			doc.Errors = append(doc.Errors, errs...)
			continue
		}
		doc.Attributes = Merge(doc.Attributes, attrs)
		l.logger.Debug().Str("file", file).Int("keys", len(attrs)).Msg("Loaded attribute file")
	}

	if err := doc.Err(); err != nil {
		return doc, engine.NewValidationError("attribute files failed to load", err)
	}
	return doc, nil
}

func (l *Loader) loadFile(ctx context.Context, file string) (map[string]interface{}, []ValidationError, error) {
	if FormatOf(file) == FormatCUE {
		doc, err := l.parser.Evaluate(ctx, []string{file})
		if err != nil {
			return nil, nil, err
		}
		return doc.Attributes, doc.Errors, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	attrs, err := Decode(FormatOf(file), data)
	if err != nil {
		return nil, []ValidationError{{File: file, Message: err.Error(), Severity: "error"}}, nil
	}
	return attrs, nil, nil
}

// ApplyOverrides runs an override script against attrs and merges its
// globals back. The script sees the attribute tree as "node". A global
// holding a dict is deep-merged into the attribute of the same name; any
// other global replaces it.
func (l *Loader) ApplyOverrides(ctx context.Context, attrs map[string]interface{}, script string) (map[string]interface{}, error) {
	if script == "" {
		return attrs, nil
	}

	result, err := l.starlark.Evaluate(ctx, script, map[string]interface{}{"node": attrs})
	if err != nil {
		return nil, engine.NewConfigurationError("override script failed", err)
	}

	overrides, err := normalize(result.Output)
	if err != nil {
		return nil, engine.NewConfigurationError("override script produced unusable values", err)
	}
	merged := Merge(attrs, overrides.(map[string]interface{}))

	l.logger.Debug().
		Int("globals", len(result.Output)).
		Dur("duration", result.ExecutionTime).
		Msg("Applied attribute overrides")
	return merged, nil
}

// Validate checks the document's attributes against the node schema.
func (l *Loader) Validate(ctx context.Context, doc *Document) error {
	if doc == nil {
		return engine.NewValidationError("no attribute document", nil)
	}
	if err := doc.Err(); err != nil {
		return engine.NewValidationError("attribute document has errors", err)
	}
	if err := l.parser.SchemaRegistry().ValidateNode(ctx, doc.Attributes); err != nil {
		return engine.NewValidationError("node attributes do not match the schema", err)
	}
	return nil
}

// Schemas returns the loader's schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.parser.SchemaRegistry()
}

// Decode parses a non-CUE attribute document. Numbers are normalized so
// integral values are int64 regardless of format.
func Decode(format Format, data []byte) (map[string]interface{}, error) {
	switch format {
	case FormatJSON:
		return decodeJSON(data)
	case FormatJSONC:
		return decodeJSON(jsonc.ToJSON(data))
	case FormatYAML:
		var raw interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		if raw == nil {
			return map[string]interface{}{}, nil
		}
		out, err := normalize(raw)
		if err != nil {
			return nil, err
		}
		m, ok := out.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("top level must be a mapping, got %T", raw)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported attribute format %q", format)
	}
}

func decodeJSON(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	out, err := normalize(raw)
	if err != nil {
		return nil, err
	}
	m, ok := out.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("top level must be an object, got %T", raw)
	}
	return m, nil
}

// normalize converts decoder output to the plain tree used everywhere:
// maps keyed by string, []interface{} and int64 for integral numbers.
func normalize(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("mapping key %v is not a string", k)
			}
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %s", val)
		}
		return f, nil
	case int:
		return int64(val), nil
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val), nil
		}
		return val, nil
	default:
		return v, nil
	}
}

// Merge deep-merges overlay into base and returns the result. Nested maps
// merge key by key; every other value in overlay replaces the one in base.
// Neither argument is modified.
func Merge(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if bm, ok := out[k].(map[string]interface{}); ok {
			if om, ok := v.(map[string]interface{}); ok {
				out[k] = Merge(bm, om)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// expand resolves paths to the supported files they name. A file given
// explicitly must have a supported extension.
func expand(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if !info.IsDir() {
			if FormatOf(p) == "" {
				return nil, engine.NewValidationError("unsupported attribute file", nil).
					WithDetail("path", p)
			}
			files = append(files, p)
			continue
		}

		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && FormatOf(path) != "" {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}
