// Package casebook holds the statically configured tribunal events.
//
// Events are authored as a JSON or YAML list and loaded into a [Catalog],
// which serves defensive copies and can be swapped atomically when the events
// file changes.
package casebook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/moonlit/internal/discovery"
	"github.com/MrWong99/moonlit/internal/tribunal"
)

// Format identifies the encoding of an events file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf infers the format from the file extension; anything other than
// .yaml or .yml is JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadFile reads and validates an events file. A missing file yields no
// events.
func LoadFile(path string) ([]tribunal.Definition, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("casebook: events file not found, starting without events", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("casebook: open %q: %w", path, err)
	}
	defer f.Close()

	defs, err := Load(f, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("casebook: parse %q: %w", path, err)
	}
	return defs, nil
}

// Load decodes an events document from r and validates it. Order is kept.
func Load(r io.Reader, format Format) ([]tribunal.Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("casebook: read: %w", err)
	}

	var defs []tribunal.Definition
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&defs); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("casebook: decode yaml: %w", err)
		}
	default:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}
		if err := json.Unmarshal(data, &defs); err != nil {
			return nil, fmt.Errorf("casebook: decode json: %w", err)
		}
	}

	if err := Validate(defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// Validate reports every problem in defs: blank or duplicate event IDs, empty
// rosters, and blank or duplicate roster entries.
func Validate(defs []tribunal.Definition) error {
	var errs []error
	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		if d.ID == "" {
			errs = append(errs, fmt.Errorf("casebook: event #%d: id is required", i))
		} else if seen[d.ID] {
			errs = append(errs, fmt.Errorf("casebook: event %q: duplicate id", d.ID))
		}
		seen[d.ID] = true

		if len(d.Roster) == 0 {
			errs = append(errs, fmt.Errorf("casebook: event %q: npcs must not be empty", d.ID))
		}
		members := make(map[string]bool, len(d.Roster))
		for _, id := range d.Roster {
			switch {
			case strings.TrimSpace(id) == "":
				errs = append(errs, fmt.Errorf("casebook: event %q: blank npc id", d.ID))
			case members[id]:
				errs = append(errs, fmt.Errorf("casebook: event %q: npc %q listed twice", d.ID, id))
			}
			members[id] = true
		}
	}
	return errors.Join(errs...)
}

type snapshot struct {
	order []tribunal.Definition
	byID  map[string]int
}

// Catalog is an in-memory, atomically replaceable set of event definitions.
// It implements [tribunal.Definitions]. The zero value is an empty catalog.
type Catalog struct {
	snap atomic.Pointer[snapshot]
}

var _ tribunal.Definitions = (*Catalog)(nil)

// NewCatalog validates defs and returns a [Catalog] serving them.
func NewCatalog(defs []tribunal.Definition) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Replace(defs); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace validates defs and swaps them in. On error the current set is kept.
func (c *Catalog) Replace(defs []tribunal.Definition) error {
	if err := Validate(defs); err != nil {
		return err
	}
	s := &snapshot{order: make([]tribunal.Definition, len(defs)), byID: make(map[string]int, len(defs))}
	for i, d := range defs {
		s.order[i] = copyDefinition(d)
		s.byID[d.ID] = i
	}
	c.snap.Store(s)
	return nil
}

// Definition returns a copy of the event with the given ID.
func (c *Catalog) Definition(id string) (tribunal.Definition, bool) {
	s := c.load()
	i, ok := s.byID[id]
	if !ok {
		return tribunal.Definition{}, false
	}
	return copyDefinition(s.order[i]), true
}

// Definitions returns copies of all events in file order.
func (c *Catalog) Definitions() []tribunal.Definition {
	s := c.load()
	out := make([]tribunal.Definition, len(s.order))
	for i, d := range s.order {
		out[i] = copyDefinition(d)
	}
	return out
}

// Len returns the number of events.
func (c *Catalog) Len() int { return len(c.load().order) }

// Reload reads path and replaces the catalog contents with it.
func (c *Catalog) Reload(path string) error {
	defs, err := LoadFile(path)
	if err != nil {
		return err
	}
	return c.Replace(defs)
}

func (c *Catalog) load() *snapshot {
	if s := c.snap.Load(); s != nil {
		return s
	}
	return &snapshot{}
}

func copyDefinition(d tribunal.Definition) tribunal.Definition {
	d.Roster = append([]string(nil), d.Roster...)
	if d.Clues != nil {
		clues := make([]any, len(d.Clues))
		for i, c := range d.Clues {
			clues[i] = discovery.CloneValue(c)
		}
		d.Clues = clues
	}
	d.GameLogs = append([]tribunal.Entry(nil), d.GameLogs...)
	return d
}
