package db

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/winramp/winramp-dsp/internal/domain"
)

type PresetRepository struct {
	db *gorm.DB
}

func NewPresetRepository(database *Database) domain.PresetRepository {
	return &PresetRepository{
		db: database.DB(),
	}
}

func (r *PresetRepository) Create(preset *domain.PresetRecord) error {
	if err := preset.Validate(); err != nil {
		return err
	}

	if err := r.db.Create(preset).Error; err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return domain.ErrPresetExists
		}
		return fmt.Errorf("failed to create preset: %w", err)
	}

	return nil
}

func (r *PresetRepository) Update(preset *domain.PresetRecord) error {
	if err := preset.Validate(); err != nil {
		return err
	}

	result := r.db.Model(&domain.PresetRecord{}).
		Where("name = ?", preset.Name).
		Updates(map[string]interface{}{
			"effect_type": preset.EffectType,
			"description": preset.Description,
			"data":        preset.Data,
			"size":        len(preset.Data),
			"updated_at":  preset.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update preset: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return domain.ErrPresetNotFound
	}

	return nil
}

func (r *PresetRepository) Delete(name string) error {
	result := r.db.Delete(&domain.PresetRecord{}, "name = ?", name)
	if result.Error != nil {
		return fmt.Errorf("failed to delete preset: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return domain.ErrPresetNotFound
	}

	return nil
}

func (r *PresetRepository) FindByName(name string) (*domain.PresetRecord, error) {
	var preset domain.PresetRecord
	if err := r.db.First(&preset, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPresetNotFound
		}
		return nil, fmt.Errorf("failed to find preset: %w", err)
	}

	return &preset, nil
}

func (r *PresetRepository) FindAll() ([]*domain.PresetRecord, error) {
	var presets []*domain.PresetRecord
	if err := r.db.Order("name").Find(&presets).Error; err != nil {
		return nil, fmt.Errorf("failed to find all presets: %w", err)
	}

	return presets, nil
}

func (r *PresetRepository) FindByEffectType(effectType string) ([]*domain.PresetRecord, error) {
	var presets []*domain.PresetRecord
	if err := r.db.Where("effect_type = ?", effectType).
		Order("name").
		Find(&presets).Error; err != nil {
		return nil, fmt.Errorf("failed to find presets by effect type: %w", err)
	}

	return presets, nil
}

func (r *PresetRepository) Exists(name string) (bool, error) {
	var count int64
	if err := r.db.Model(&domain.PresetRecord{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check preset: %w", err)
	}
	return count > 0, nil
}

func (r *PresetRepository) Count() (int64, error) {
	var count int64
	if err := r.db.Model(&domain.PresetRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count presets: %w", err)
	}

	return count, nil
}
