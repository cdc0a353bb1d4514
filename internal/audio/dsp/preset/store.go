package preset

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/winramp/winramp-dsp/internal/domain"
	"github.com/winramp/winramp-dsp/internal/logger"
)

// EffectTypeKey is the string parameter naming the effect a preset belongs to.
const EffectTypeKey = "effect_type"

// Store saves and loads presets through a repository.
type Store struct {
	repo domain.PresetRepository
	log  *logger.Logger
}

func NewStore(repo domain.PresetRepository, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{repo: repo, log: log}
}

// Save stores p under name, replacing an existing preset of that name.
func (s *Store) Save(name string, p *Preset) error {
	stored := p.Clone()
	stored.SetName(name)
	if err := s.Validate(stored); err != nil {
		return err
	}

	data := Encode(stored)
	effectType := stored.StringOr(EffectTypeKey, "")

	existing, err := s.repo.FindByName(name)
	switch {
	case err == nil:
		existing.SetData(data)
		existing.EffectType = effectType
		if err := s.repo.Update(existing); err != nil {
			return fmt.Errorf("failed to update preset %q: %w", name, err)
		}
	case domain.IsNotFound(err):
		rec, err := domain.NewPresetRecord(name, effectType, data)
		if err != nil {
			return err
		}
		if err := s.repo.Create(rec); err != nil {
			return fmt.Errorf("failed to create preset %q: %w", name, err)
		}
	default:
		return fmt.Errorf("failed to look up preset %q: %w", name, err)
	}

	s.log.Debug("Preset saved",
		logger.String("name", name),
		logger.String("effect_type", effectType),
		logger.Int("bytes", len(data)),
	)
	return nil
}

// Load returns the preset stored under name.
func (s *Store) Load(name string) (*Preset, error) {
	rec, err := s.repo.FindByName(name)
	if err != nil {
		return nil, err
	}
	p, err := Decode(rec.Data)
	if err != nil {
		s.log.Warn("Stored preset is corrupted",
			logger.String("name", name),
			logger.Error(err),
		)
		return nil, fmt.Errorf("preset %q: %w", name, err)
	}
	return p, nil
}

// LoadInto decodes the stored preset into dst. dst is untouched on failure.
func (s *Store) LoadInto(name string, dst *Preset) error {
	p, err := s.Load(name)
	if err != nil {
		return err
	}
	dst.CopyFrom(p)
	return nil
}

func (s *Store) Delete(name string) error {
	if err := s.repo.Delete(name); err != nil {
		return err
	}
	s.log.Debug("Preset deleted", logger.String("name", name))
	return nil
}

// List returns preset names in repository order.
func (s *Store) List() ([]string, error) {
	recs, err := s.repo.FindAll()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(recs))
	for _, r := range recs {
		names = append(names, r.Name)
	}
	return names, nil
}

// ListForEffect returns the names of presets saved for one effect type.
func (s *Store) ListForEffect(effectType string) ([]string, error) {
	recs, err := s.repo.FindByEffectType(effectType)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(recs))
	for _, r := range recs {
		names = append(names, r.Name)
	}
	return names, nil
}

func (s *Store) Exists(name string) bool {
	ok, err := s.repo.Exists(name)
	return err == nil && ok
}

// Import reads a preset blob from path and saves it under its embedded name,
// or the file's base name when the blob carries none.
func (s *Store) Import(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrFileNotFound, path)
		}
		return nil, err
	}

	p, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", path, err)
	}
	if p.Name() == "" {
		base := filepath.Base(path)
		p.SetName(base[:len(base)-len(filepath.Ext(base))])
	}
	if err := s.Save(p.Name(), p); err != nil {
		return nil, err
	}

	s.log.Info("Preset imported",
		logger.String("name", p.Name()),
		logger.String("path", path),
	)
	return p, nil
}

// Export writes the stored preset as a blob file.
func (s *Store) Export(name, path string) error {
	rec, err := s.repo.FindByName(name)
	if err != nil {
		return err
	}
	if _, err := Decode(rec.Data); err != nil {
		return fmt.Errorf("preset %q: %w", name, err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, rec.Data, 0644); err != nil {
		return fmt.Errorf("failed to export preset %q: %w", name, err)
	}

	s.log.Info("Preset exported",
		logger.String("name", name),
		logger.String("path", path),
	)
	return nil
}

// Validate checks the name and that every float parameter is finite.
func (s *Store) Validate(p *Preset) error {
	if p == nil || !p.IsValid() {
		return fmt.Errorf("%w: preset not initialised", domain.ErrInvalidPreset)
	}
	if err := domain.ValidatePresetName(p.Name()); err != nil {
		return err
	}
	for _, k := range p.FloatNames() {
		if k == "" {
			return fmt.Errorf("%w: empty parameter name", domain.ErrInvalidPreset)
		}
		v, _ := p.Float(k)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: parameter %q is not finite", domain.ErrInvalidPreset, k)
		}
	}
	for _, k := range p.StringNames() {
		if k == "" {
			return fmt.Errorf("%w: empty parameter name", domain.ErrInvalidPreset)
		}
	}
	return nil
}
