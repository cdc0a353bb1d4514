package domain

import (
	"fmt"
	"strings"
	"time"
)

const MaxPresetNameLength = 128

// PresetRecord is a stored effect preset. Data holds the encoded preset blob.
type PresetRecord struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"uniqueIndex;not null"`
	EffectType  string    `json:"effect_type" gorm:"index"`
	Description string    `json:"description"`
	Data        []byte    `json:"-" gorm:"type:blob;not null"`
	Size        int       `json:"size"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewPresetRecord(name, effectType string, data []byte) (*PresetRecord, error) {
	if err := ValidatePresetName(name); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty preset data", ErrInvalidPreset)
	}

	now := time.Now()
	return &PresetRecord{
		ID:         generatePresetID(),
		Name:       strings.TrimSpace(name),
		EffectType: effectType,
		Data:       data,
		Size:       len(data),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (p *PresetRecord) Validate() error {
	if err := ValidatePresetName(p.Name); err != nil {
		return err
	}
	if len(p.Data) == 0 {
		return fmt.Errorf("%w: empty preset data", ErrInvalidPreset)
	}
	return nil
}

// SetData replaces the blob and bumps UpdatedAt.
func (p *PresetRecord) SetData(data []byte) {
	p.Data = data
	p.Size = len(data)
	p.UpdatedAt = time.Now()
}

func (p *PresetRecord) Clone() *PresetRecord {
	clone := *p
	clone.Data = append([]byte(nil), p.Data...)
	return &clone
}

// ValidatePresetName rejects empty, overlong and path-like names.
func ValidatePresetName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPreset)
	}
	if len(name) > MaxPresetNameLength {
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidPreset, MaxPresetNameLength)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: name contains a path separator", ErrInvalidPreset)
	}
	return nil
}

func generatePresetID() string {
	return fmt.Sprintf("preset_%d", time.Now().UnixNano())
}

type PresetRepository interface {
	Create(preset *PresetRecord) error
	Update(preset *PresetRecord) error
	Delete(name string) error
	FindByName(name string) (*PresetRecord, error)
	FindAll() ([]*PresetRecord, error)
	FindByEffectType(effectType string) ([]*PresetRecord, error)
	Exists(name string) (bool, error)
	Count() (int64, error)
}
