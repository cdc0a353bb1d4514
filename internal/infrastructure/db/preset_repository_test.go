package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winramp/winramp-dsp/internal/domain"
)

func openTestDatabase(t *testing.T) *Database {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "presets.db")
	cfg.LogLevel = "silent"

	database, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func newRecord(t *testing.T, name, effectType string) *domain.PresetRecord {
	t.Helper()
	rec, err := domain.NewPresetRecord(name, effectType, []byte{0x44, 0x42, 0x50, 0x46, 1})
	require.NoError(t, err)
	return rec
}

func TestPresetRepository_CRUD(t *testing.T) {
	repo := NewPresetRepository(openTestDatabase(t))

	rec := newRecord(t, "rock", "equalizer")
	require.NoError(t, repo.Create(rec))

	err := repo.Create(newRecord(t, "rock", "equalizer"))
	assert.ErrorIs(t, err, domain.ErrPresetExists)

	found, err := repo.FindByName("rock")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)
	assert.Equal(t, rec.Data, found.Data)

	found.SetData([]byte{9, 9, 9})
	require.NoError(t, repo.Update(found))
	found, err = repo.FindByName("rock")
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9}, found.Data)
	assert.Equal(t, 3, found.Size)

	ok, err := repo.Exists("rock")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.Delete("rock"))
	_, err = repo.FindByName("rock")
	assert.ErrorIs(t, err, domain.ErrPresetNotFound)
	assert.ErrorIs(t, repo.Delete("rock"), domain.ErrPresetNotFound)
}

func TestPresetRepository_UpdateMissing(t *testing.T) {
	repo := NewPresetRepository(openTestDatabase(t))
	err := repo.Update(newRecord(t, "ghost", "reverb"))
	assert.ErrorIs(t, err, domain.ErrPresetNotFound)
}

func TestPresetRepository_Queries(t *testing.T) {
	repo := NewPresetRepository(openTestDatabase(t))

	for _, p := range []struct{ name, kind string }{
		{"plate", "reverb"},
		{"hall", "reverb"},
		{"jazz", "equalizer"},
	} {
		require.NoError(t, repo.Create(newRecord(t, p.name, p.kind)))
	}

	all, err := repo.FindAll()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "hall", all[0].Name)

	reverbs, err := repo.FindByEffectType("reverb")
	require.NoError(t, err)
	require.Len(t, reverbs, 2)
	assert.Equal(t, "hall", reverbs[0].Name)
	assert.Equal(t, "plate", reverbs[1].Name)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestDatabase_StatsAndBackup(t *testing.T) {
	database := openTestDatabase(t)
	repo := NewPresetRepository(database)
	require.NoError(t, repo.Create(newRecord(t, "pop", "equalizer")))

	stats, err := database.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["presets_count"])

	backup := filepath.Join(t.TempDir(), "backup", "presets.db")
	require.NoError(t, database.Backup(backup))
	assert.FileExists(t, backup)

	copyDB, err := Open(Config{Path: backup, MaxOpenConns: 1, MaxIdleConns: 1, LogLevel: "silent"}, nil)
	require.NoError(t, err)
	defer copyDB.Close()
	n, err := NewPresetRepository(copyDB).Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
