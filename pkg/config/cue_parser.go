package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// CUEParser parses node attribute documents written in CUE. A CUE source
// may use the full language (references, comprehensions, defaults); the
// result must be concrete.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{
		ctx:            cuecontext.New(),
		schemaRegistry: NewSchemaRegistry(),
	}
}

// Parse parses CUE files or package directories, unifies them and checks the
// result against the #Node schema. Parse and schema problems are reported in
// Document.Errors; the returned error is for I/O failures.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*Document, error) {
	return cp.parse(ctx, sources, true)
}

// Evaluate is Parse without the schema check, for documents that hold only
// part of a node.
func (cp *CUEParser) Evaluate(ctx context.Context, sources []string) (*Document, error) {
	return cp.parse(ctx, sources, false)
}

func (cp *CUEParser) parse(ctx context.Context, sources []string, validate bool) (*Document, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	unify := func(val cue.Value) {
		if !val.Exists() {
			return
		}
		if cueValue.Exists() {
			cueValue = cueValue.Unify(val)
		} else {
			cueValue = val
		}
	}

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			val, files, errs := cp.loadDirectory(source)
			parseErrors = append(parseErrors, errs...)
			unify(val)
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs := cp.loadFile(source)
			parseErrors = append(parseErrors, errs...)
			unify(val)
			sourceFiles = append(sourceFiles, source)
		}
	}

	doc := &Document{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
		Errors:      parseErrors,
	}
	if len(parseErrors) > 0 {
		return doc, nil
	}

	if err := cueValue.Err(); err != nil {
		doc.Errors = cp.convertCUEErrors(err)
		return doc, nil
	}

	cp.extract(ctx, cueValue, doc, validate)
	return doc, nil
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*Document, error) {
	doc := &Document{
		SourceFiles: []string{"inline"},
		ParsedAt:    time.Now(),
	}

	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		doc.Errors = cp.convertCUEErrors(err)
		return doc, nil
	}

	cp.extract(ctx, val, doc, true)
	return doc, nil
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// extract decodes a concrete CUE value into the document's attribute tree.
func (cp *CUEParser) extract(ctx context.Context, val cue.Value, doc *Document, validate bool) {
	if err := val.Validate(cue.Concrete(true)); err != nil {
		doc.Errors = append(doc.Errors, cp.convertCUEErrors(err)...)
		return
	}

	// A JSON round trip keeps number types identical to the other formats.
	data, err := val.MarshalJSON()
	if err != nil {
		doc.Errors = append(doc.Errors, ValidationError{
			Message:  fmt.Sprintf("failed to export attributes: %v", err),
			Severity: "error",
		})
		return
	}
	attrs, err := decodeJSON(data)
	if err != nil {
		doc.Errors = append(doc.Errors, ValidationError{
			Message:  err.Error(),
			Severity: "error",
		})
		return
	}

	if !validate {
		doc.Attributes = attrs
		return
	}
	if err := cp.schemaRegistry.ValidateNode(ctx, attrs); err != nil {
		doc.Errors = append(doc.Errors, cp.convertCUEErrors(err)...)
		return
	}
	doc.Attributes = attrs
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		path := ""
		if p := e.Path(); len(p) > 0 {
			path = cue.MakePath(selectors(p)...).String()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     path,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

func selectors(path []string) []cue.Selector {
	out := make([]cue.Selector, 0, len(path))
	for _, p := range path {
		out = append(out, cue.Str(p))
	}
	return out
}

// SchemaRegistry returns the schema registry.
func (cp *CUEParser) SchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// ExportJSON exports a document's attributes as indented JSON.
func ExportJSON(doc *Document) ([]byte, error) {
	return json.MarshalIndent(doc.Attributes, "", "  ")
}
