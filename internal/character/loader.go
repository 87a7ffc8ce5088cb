package character

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies the encoding of a characters file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf infers the file format from its extension. Anything that is not
// .yaml or .yml is treated as JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadFile reads a characters file from disk.
//
// The file is an object keyed by character ID:
//
//	{
//	  "kui": {"name": "Kui", "system_prompt": "...", "abilities": ["thunder"]}
//	}
//
// A record's id may be omitted, in which case the key is used.
func LoadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("character: open %q: %w", path, err)
	}
	defer f.Close()

	recs, err := Load(f, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("character: parse %q: %w", path, err)
	}
	return recs, nil
}

// Load decodes a characters document from r. Records are validated and
// returned ordered by ID.
func Load(r io.Reader, format Format) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("character: read: %w", err)
	}

	byID := map[string]Record{}
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&byID); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("character: decode yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &byID); err != nil {
			return nil, fmt.Errorf("character: decode json: %w", err)
		}
	}

	recs := make([]Record, 0, len(byID))
	var errs []error
	for key, rec := range byID {
		if rec.ID == "" {
			rec.ID = key
		}
		if rec.ID != key {
			errs = append(errs, fmt.Errorf("character: key %q holds record with id %q", key, rec.ID))
			continue
		}
		if err := rec.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		recs = append(recs, rec)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

// Import upserts every record into store and returns how many were written.
// A store error aborts the import.
func Import(ctx context.Context, store Store, recs []Record) (int, error) {
	for i := range recs {
		if err := store.Upsert(ctx, &recs[i]); err != nil {
			return i, fmt.Errorf("character: import %q: %w", recs[i].ID, err)
		}
	}
	return len(recs), nil
}
