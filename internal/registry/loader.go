package registry

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadResult is the outcome of parsing every capability file under a set of
// roots: successfully parsed tools, plus any per-file parse errors. On parse
// error for any one file, the registry retains its previous snapshot and
// surfaces the error on a diagnostic channel — it never serves a partial
// snapshot (§4.2) — so LoadFiles returns both the good tools it found and
// the errors, letting the caller decide whether to accept a partial load.
type LoadResult struct {
	Tools  []ToolDefinition
	Errors []FileError
}

// FileError associates a parse error with the file path it came from.
type FileError struct {
	Path string
	Err  error
}

func (fe FileError) Error() string { return fmt.Sprintf("%s: %v", fe.Path, fe.Err) }

// LoadFiles walks every root recursively, parsing each *.yaml/*.yml file as a
// CapabilityFile. strict requests strict unknown-field validation.
func LoadFiles(roots []string, strict bool) LoadResult {
	var result LoadResult

	for _, root := range roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				result.Errors = append(result.Errors, FileError{Path: path, Err: err})
				return nil
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			tools, err := loadFile(path, strict)
			if err != nil {
				result.Errors = append(result.Errors, FileError{Path: path, Err: err})
				return nil
			}
			result.Tools = append(result.Tools, tools...)
			return nil
		})
	}

	return result
}

func loadFile(path string, strict bool) ([]ToolDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	var doc CapabilityFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if strict {
		dec.KnownFields(true)
	}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	for i := range doc.Tools {
		doc.Tools[i].SourcePath = path
		if err := doc.Tools[i].Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	return doc.Tools, nil
}
