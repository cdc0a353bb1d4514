// Package preset holds named effect parameter sets, their binary encoding and
// the store that persists them.
package preset

import (
	"maps"
	"slices"
)

// Preset is a named bag of float and string parameters. Keys are kept sorted
// when listed or encoded.
type Preset struct {
	name    string
	floats  map[string]float32
	strings map[string]string
	valid   bool
}

// New returns a valid, empty preset called name.
func New(name string) *Preset {
	return &Preset{
		name:    name,
		floats:  make(map[string]float32),
		strings: make(map[string]string),
		valid:   true,
	}
}

func (p *Preset) Name() string { return p.name }

func (p *Preset) SetName(name string) {
	p.name = name
	p.valid = true
}

// SetFloat stores v with float32 precision, which is what the blob carries.
func (p *Preset) SetFloat(key string, v float64) {
	if p.floats == nil {
		p.floats = make(map[string]float32)
	}
	p.floats[key] = float32(v)
}

// Float returns the value for key and whether it was present.
func (p *Preset) Float(key string) (float64, bool) {
	v, ok := p.floats[key]
	return float64(v), ok
}

// FloatOr returns the value for key or def when absent.
func (p *Preset) FloatOr(key string, def float64) float64 {
	if v, ok := p.floats[key]; ok {
		return float64(v)
	}
	return def
}

func (p *Preset) SetString(key, v string) {
	if p.strings == nil {
		p.strings = make(map[string]string)
	}
	p.strings[key] = v
}

func (p *Preset) String(key string) (string, bool) {
	v, ok := p.strings[key]
	return v, ok
}

func (p *Preset) StringOr(key, def string) string {
	if v, ok := p.strings[key]; ok {
		return v
	}
	return def
}

// Has reports whether key exists as either a float or a string parameter.
func (p *Preset) Has(key string) bool {
	if _, ok := p.floats[key]; ok {
		return true
	}
	_, ok := p.strings[key]
	return ok
}

// Delete removes key from both parameter sets.
func (p *Preset) Delete(key string) {
	delete(p.floats, key)
	delete(p.strings, key)
}

// Reset clears the name and every parameter and marks the preset invalid.
func (p *Preset) Reset() {
	p.name = ""
	clear(p.floats)
	clear(p.strings)
	p.valid = false
}

func (p *Preset) IsValid() bool { return p.valid }

func (p *Preset) Len() int { return len(p.floats) + len(p.strings) }

func (p *Preset) FloatNames() []string {
	return slices.Sorted(maps.Keys(p.floats))
}

func (p *Preset) StringNames() []string {
	return slices.Sorted(maps.Keys(p.strings))
}

// CopyFrom replaces p's contents with a deep copy of src.
func (p *Preset) CopyFrom(src *Preset) {
	if src == p {
		return
	}
	p.name = src.name
	p.valid = src.valid
	p.floats = maps.Clone(src.floats)
	p.strings = maps.Clone(src.strings)
	if p.floats == nil {
		p.floats = make(map[string]float32)
	}
	if p.strings == nil {
		p.strings = make(map[string]string)
	}
}

func (p *Preset) Clone() *Preset {
	dup := &Preset{}
	dup.CopyFrom(p)
	return dup
}

// Equal compares names and parameters.
func (p *Preset) Equal(other *Preset) bool {
	if other == nil {
		return false
	}
	return p.name == other.name &&
		maps.Equal(p.floats, other.floats) &&
		maps.Equal(p.strings, other.strings)
}
