// Package manifest persists content-hash manifests for genomes and
// queries and classifies each input as new, changed, removed, or
// unchanged against the previous run.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Hash returns the hex sha256 digest of the given sequence content.
// It is stable across runs and platforms.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Short returns the 12-character prefix of a full hash, used in
// generated file names.
func Short(hash string) string {
	if len(hash) < 12 {
		return hash
	}
	return hash[:12]
}

// Classification partitions input identifiers by how their content
// compares to the previously persisted manifest. All slices are sorted.
type Classification struct {
	New       []string
	Changed   []string
	Removed   []string
	Unchanged []string
}

// Dirty reports whether anything differs from the previous run.
func (c Classification) Dirty() bool {
	return len(c.New) > 0 || len(c.Changed) > 0 || len(c.Removed) > 0
}

// Classify compares the freshly computed identifier → hash set against
// the previous manifest.
func Classify(current, previous map[string]string) Classification {
	var c Classification
	for id, hash := range current {
		prev, ok := previous[id]
		switch {
		case !ok:
			c.New = append(c.New, id)
		case prev != hash:
			c.Changed = append(c.Changed, id)
		default:
			c.Unchanged = append(c.Unchanged, id)
		}
	}
	for id := range previous {
		if _, ok := current[id]; !ok {
			c.Removed = append(c.Removed, id)
		}
	}
	sort.Strings(c.New)
	sort.Strings(c.Changed)
	sort.Strings(c.Removed)
	sort.Strings(c.Unchanged)
	return c
}

// Load reads an identifier → hash manifest. A missing file is an empty
// manifest, not an error.
func Load(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt manifest %s: %w", path, err)
	}
	return m, nil
}

// Save atomically replaces the manifest at path. Callers must only
// save after the previous classification has been consumed, so the
// comparison stays available if the run aborts mid-stage.
func Save(path string, m map[string]string) error {
	return writeJSON(path, m)
}

// LoadLabels reads the append-only genome label index. The position of
// a genome identifier in the slice is its permanent integer label.
func LoadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("corrupt label index %s: %w", path, err)
	}
	return labels, nil
}

// ExtendLabels appends any identifiers not yet present. Existing
// entries are never reordered or removed, so indices assigned in
// earlier runs stay valid even for genomes that were since dropped.
func ExtendLabels(labels, ids []string) []string {
	known := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		known[l] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			labels = append(labels, id)
			known[id] = struct{}{}
		}
	}
	return labels
}

// SaveLabels atomically writes the label index.
func SaveLabels(path string, labels []string) error {
	return writeJSON(path, labels)
}

// writeJSON writes v to path via a temp file and rename so readers
// never observe a partial manifest.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// WriteJSON exposes the atomic JSON writer for other pipeline
// artifacts (decision report, keep list).
func WriteJSON(path string, v any) error {
	return writeJSON(path, v)
}
