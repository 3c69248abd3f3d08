package vis

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mcpfed/mcpfed/internal/registry"
)

// capabilityFiles walks roots and returns every *.yaml/*.yml file path.
func capabilityFiles(roots []string) ([]string, error) {
	var paths []string
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext == ".yaml" || ext == ".yml" {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking root %s: %w", root, err)
		}
	}
	return paths, nil
}

func readCapabilityFile(path string) (registry.CapabilityFile, error) {
	var doc registry.CapabilityFile
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc, nil
}

func writeCapabilityFile(path string, doc registry.CapabilityFile) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	info, err := os.Stat(path)
	mode := os.FileMode(0o644)
	if err == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(path, buf.Bytes(), mode); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// findToolFile locates the capability file under roots that defines name.
func findToolFile(roots []string, name string) (string, error) {
	paths, err := capabilityFiles(roots)
	if err != nil {
		return "", err
	}
	for _, path := range paths {
		doc, err := readCapabilityFile(path)
		if err != nil {
			continue
		}
		for _, t := range doc.Tools {
			if t.Name == name {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("no capability file under the configured roots defines tool %q", name)
}

// setHidden flips doc's tool(s) Hidden field in place. If name is empty,
// every tool in doc is updated; otherwise only the matching tool is, and
// found reports whether it was present.
func setHidden(doc *registry.CapabilityFile, name string, hidden bool) (found bool) {
	for i := range doc.Tools {
		if name == "" || doc.Tools[i].Name == name {
			doc.Tools[i].Hidden = hidden
			found = true
		}
	}
	return found
}
