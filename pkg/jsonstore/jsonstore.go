// Package jsonstore provides atomic load/save of small JSON-encoded state
// files (nonce store, trading rules, trade counter, bracket state), kept as
// standalone files rather than table rows.
package jsonstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads path into v. A missing file is not an error; v is left
// untouched and the caller's zero value stands.
func Load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("jsonstore: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("jsonstore: decode %s: %w", path, err)
	}
	return nil
}

// Save writes v to path atomically: it marshals to a temp file in the same
// directory, then renames over the destination, so a crash mid-write never
// leaves a truncated or partially-written state file behind.
func Save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("jsonstore: mkdir %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonstore: encode %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("jsonstore: create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("jsonstore: write temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonstore: close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonstore: rename into %s: %w", path, err)
	}
	return nil
}
