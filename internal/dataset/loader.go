package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir reads *.yaml descriptor files from dir and merges them over the
// built-in descriptors: a file whose name matches a built-in dataset
// replaces it, any other file adds a new dataset. Each file contains
// exactly one descriptor at the top level. Descriptors are loaded once at
// startup — no hot reload.
//
// A missing directory is valid and yields the built-ins unchanged.
func LoadDir(dir string) ([]*Descriptor, error) {
	descriptors := BuiltIn()

	if dir == "" {
		return descriptors, nil
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return descriptors, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dataset descriptor dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dataset descriptor path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading dataset descriptor dir: %w", err)
	}

	byName := make(map[string]int, len(descriptors))
	for i, d := range descriptors {
		byName[d.Name] = i
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading descriptor file %s: %w", path, err)
		}

		var d Descriptor
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("parsing descriptor file %s: %w", path, err)
		}
		if d.Name == "" {
			continue // comment-only file
		}
		if d.Table == "" || d.PrimaryField == "" || d.YearField == "" || d.AmountField == "" {
			return nil, fmt.Errorf("descriptor %q: table, primary_field, year_field and amount_field are required", d.Name)
		}
		if !contains(d.SearchFields, d.PrimaryField) {
			return nil, fmt.Errorf("descriptor %q: search_fields must include the primary field", d.Name)
		}

		if i, exists := byName[d.Name]; exists {
			descriptors[i] = &d
		} else {
			byName[d.Name] = len(descriptors)
			descriptors = append(descriptors, &d)
		}
	}

	return descriptors, nil
}
