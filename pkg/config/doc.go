// Package config loads node attribute documents.
//
// # Overview
//
// A node is described by one or more attribute files. The loader reads them
// in order, deep-merges them with later files winning, optionally runs a
// Starlark override script and validates the result against the built-in
// CUE node schema. The merged tree is what attributes.Resolve consumes.
//
// # Formats
//
//   - .cue - evaluated with the CUE language; must be concrete
//   - .yaml, .yml - YAML documents
//   - .json - plain JSON
//   - .jsonc - JSON with comments and trailing commas
//
// Integral numbers are decoded as int64 in every format.
//
// # Components
//
// Loader: reads files and directories, merges documents, applies overrides
// and validates.
//
// CUEParser: evaluates CUE files, package directories and inline content,
// reporting errors with file positions.
//
// SchemaRegistry: holds the #Node, #Rsyslog and #Elasticsearch definitions
// and accepts custom schemas.
//
// StarlarkEvaluator: runs override scripts with a timeout.
//
// # Usage Example
//
//	loader := config.NewLoader(logger, 5*time.Second)
//
//	doc, err := loader.Load(ctx, []string{"nodes/base.yaml", "nodes/web01.cue"})
//	if err != nil {
//	    return err
//	}
//
//	doc.Attributes, err = loader.ApplyOverrides(ctx, doc.Attributes, script)
//	if err != nil {
//	    return err
//	}
//
//	if err := loader.Validate(ctx, doc); err != nil {
//	    return err
//	}
//
// # Overrides
//
// Override scripts see the merged tree as "node". Top-level globals become
// attributes; dicts merge into the attribute of the same name:
//
//	rsyslog = {
//	    "server_ip": "10.0.0.5",
//	    "port": 10514 if node["platform"] == "smartos" else 514,
//	}
//
// Globals starting with an underscore and functions are ignored.
package config
