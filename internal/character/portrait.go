package character

import "path"

// DefaultPortraitDir is the directory portraits are served from when no
// explicit mapping exists.
const DefaultPortraitDir = "images"

// Portraits maps character IDs to presentation image paths.
type Portraits struct {
	overrides map[string]string
	dir       string
}

// NewPortraits creates a resolver. overrides takes precedence over the
// derived "<dir>/<id>.png" path; an empty dir uses [DefaultPortraitDir].
func NewPortraits(dir string, overrides map[string]string) *Portraits {
	if dir == "" {
		dir = DefaultPortraitDir
	}
	cp := make(map[string]string, len(overrides))
	for k, v := range overrides {
		cp[k] = v
	}
	return &Portraits{overrides: cp, dir: dir}
}

// Resolve returns the portrait path for id. Lookup order: the configured
// override, then rec.Portrait, then the derived default.
func (p *Portraits) Resolve(id string, rec *Record) string {
	if v, ok := p.overrides[id]; ok && v != "" {
		return v
	}
	if rec != nil && rec.Portrait != "" {
		return rec.Portrait
	}
	return path.Join(p.dir, id+".png")
}
