package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/winramp/winramp-dsp/internal/domain"
	"github.com/winramp/winramp-dsp/internal/logger"
)

type Database struct {
	db  *gorm.DB
	cfg Config
	log *logger.Logger
	mu  sync.RWMutex
}

type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	LogLevel        string
}

func DefaultConfig() Config {
	return Config{
		Path:            filepath.Join(logger.DataDir(), "presets.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		LogLevel:        "warn",
	}
}

// Open connects to the SQLite database at cfg.Path and migrates the schema.
func Open(cfg Config, log *logger.Logger) (*Database, error) {
	if log == nil {
		log = logger.Nop()
	}
	d := &Database{log: log}
	if err := d.initialize(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Database) initialize(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Ensure database directory exists
	dbDir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	var logLevel gormlogger.LogLevel
	switch cfg.LogLevel {
	case "silent":
		logLevel = gormlogger.Silent
	case "error":
		logLevel = gormlogger.Error
	case "warn":
		logLevel = gormlogger.Warn
	case "info":
		logLevel = gormlogger.Info
	default:
		logLevel = gormlogger.Warn
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		PrepareStmt: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Enable WAL mode for better concurrency
	if err := db.Exec("PRAGMA journal_mode = WAL").Error; err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d.db = db
	d.cfg = cfg

	if err := d.migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.log.Debug("Database initialized", logger.String("path", cfg.Path))
	return nil
}

func (d *Database) migrate() error {
	if d.db == nil {
		return fmt.Errorf("database not initialized")
	}

	models := []interface{}{
		&domain.PresetRecord{},
	}

	for _, model := range models {
		if err := d.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	return d.createIndexes()
}

func (d *Database) createIndexes() error {
	indexes := []struct {
		Table   string
		Name    string
		Columns []string
	}{
		{"preset_records", "idx_presets_type_name", []string{"effect_type", "name"}},
		{"preset_records", "idx_presets_updated_at", []string{"updated_at"}},
	}

	for _, idx := range indexes {
		var count int64
		d.db.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", idx.Name).Scan(&count)
		if count > 0 {
			continue
		}

		sql := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", idx.Name, idx.Table, strings.Join(idx.Columns, ", "))
		if err := d.db.Exec(sql).Error; err != nil {
			d.log.Warn("Failed to create index",
				logger.String("index", idx.Name),
				logger.Error(err))
		}
	}

	return nil
}

func (d *Database) DB() *gorm.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

func (d *Database) Path() string {
	return d.cfg.Path
}

func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		sqlDB, err := d.db.DB()
		if err != nil {
			return err
		}
		d.db = nil
		return sqlDB.Close()
	}
	return nil
}

// Backup writes a consistent copy of the database to path.
func (d *Database) Backup(path string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return fmt.Errorf("database not initialized")
	}

	backupDir := filepath.Dir(path)
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	if err := d.db.Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("failed to backup database: %w", err)
	}

	d.log.Info("Database backed up", logger.String("path", path))
	return nil
}

func (d *Database) Vacuum() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := d.db.Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}

func (d *Database) GetStats() (map[string]interface{}, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	stats := make(map[string]interface{})

	var count int64
	if err := d.db.Model(&domain.PresetRecord{}).Count(&count).Error; err != nil {
		d.log.Warn("Failed to count presets", logger.Error(err))
	} else {
		stats["presets_count"] = count
	}

	var dbSize int64
	d.db.Raw("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").Scan(&dbSize)
	stats["size_bytes"] = dbSize
	stats["path"] = d.cfg.Path

	return stats, nil
}
