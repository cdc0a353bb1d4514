package dsp

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/audio/dsp/preset"
	"github.com/winramp/winramp-dsp/internal/config"
	"github.com/winramp/winramp-dsp/internal/domain"
	"github.com/winramp/winramp-dsp/internal/infrastructure/db"
)

func newTestManager(t *testing.T, store *preset.Store) *Manager {
	t.Helper()
	m := NewManager(NewContext(nil, config.Default().DSP, store))
	t.Cleanup(func() { m.Close() })
	return m
}

func newSQLiteStore(t *testing.T) *preset.Store {
	t.Helper()
	cfg := db.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "presets.db")
	cfg.LogLevel = "silent"
	database, err := db.Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return preset.NewStore(db.NewPresetRepository(database), nil)
}

func TestCreateEffect(t *testing.T) {
	tests := []struct {
		typ  EffectType
		name string
	}{
		{EffectEqualizer, "Equalizer"},
		{EffectReverb, "Reverb"},
		{EffectLimiter, "Limiter"},
		{EffectVolume, "Volume"},
		{EffectReplayGain, "ReplayGain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := CreateEffect(tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.name, e.Name())
			assert.Equal(t, tt.typ, e.Type())
			assert.Equal(t, StateUninstantiated, e.State())
		})
	}

	_, err := CreateEffect(EffectChorus)
	assert.ErrorIs(t, err, domain.ErrUnsupportedEffect)
	assert.Len(t, EffectTemplates(), len(tests))
}

func TestManager_StandardChain(t *testing.T) {
	m := newTestManager(t, nil)
	require.NoError(t, m.StandardChain())
	assert.Equal(t, []string{"Equalizer", "Reverb", "Volume"}, names(m.Effects()))

	eq, err := m.FindEffect("Equalizer")
	require.NoError(t, err)
	assert.Equal(t, EffectEqualizer, eq.Type())
	_, err = m.FindEffect("Chorus")
	assert.ErrorIs(t, err, domain.ErrEffectNotFound)

	c := sineChunk(440, 0.3, 1024, 2, 44100)
	require.NoError(t, m.ProcessChain(context.Background(), c))
	requireFinite(t, c)
	assert.InDelta(t, 21, m.EstimateTotalCPU(), 1e-9)
}

func TestManager_MaxEffects(t *testing.T) {
	cfg := config.Default().DSP
	cfg.MaxEffects = 2
	m := NewManager(NewContext(nil, cfg, nil))
	defer m.Close()

	require.NoError(t, m.AddEffect(NewVolume()))
	require.NoError(t, m.AddEffect(NewLimiter()))
	assert.ErrorIs(t, m.AddEffect(NewVolume()), domain.ErrChainFull)
	assert.Equal(t, 2, m.EffectCount())

	cfg.MaxEffects = 1
	m.UpdateConfig(cfg)
	result := m.Validate()
	assert.False(t, result.Valid)
	assert.Contains(t, result.Error(), "maximum is 1")
}

func TestManager_Validate(t *testing.T) {
	t.Run("two limiters", func(t *testing.T) {
		m := newTestManager(t, nil)
		require.NoError(t, m.AddEffect(NewLimiter()))
		require.NoError(t, m.AddEffect(NewLimiter()))
		result := m.Validate()
		assert.False(t, result.Valid)
		require.Len(t, result.Issues, 1)
		assert.Equal(t, 1, result.Issues[0].Index)
	})

	t.Run("band above nyquist", func(t *testing.T) {
		m := newTestManager(t, nil)
		require.NoError(t, m.AddEffect(NewEqualizer()))
		require.NoError(t, m.ProcessChain(context.Background(), noiseChunk(1, 64, 2, 22050)))
		result := m.Validate()
		assert.False(t, result.Valid)
		assert.Contains(t, result.Error(), "16000")
	})

	t.Run("standard chain", func(t *testing.T) {
		m := newTestManager(t, nil)
		require.NoError(t, m.StandardChain())
		assert.True(t, m.Validate().Valid)
	})
}

func TestManager_EditingThroughManager(t *testing.T) {
	m := newTestManager(t, nil)
	require.NoError(t, m.AddEffect(NewVolume()))
	require.NoError(t, m.InsertEffect(0, NewEqualizer()))
	require.NoError(t, m.MoveEffect(0, 1))
	assert.Equal(t, []string{"Volume", "Equalizer"}, names(m.Effects()))

	e, err := m.RemoveEffect(0)
	require.NoError(t, err)
	assert.Equal(t, "Volume", e.Name())
	require.NoError(t, m.RemoveEffectByName("Equalizer"))
	assert.Zero(t, m.EffectCount())

	_, err = m.Effect(0)
	assert.ErrorIs(t, err, domain.ErrIndexOutOfRange)
}

func TestManager_PresetStore(t *testing.T) {
	m := newTestManager(t, newSQLiteStore(t))

	eq := NewEqualizer()
	require.NoError(t, eq.LoadPreset("rock"))
	require.NoError(t, m.AddEffect(eq))
	rock := eq.Gains()

	require.NoError(t, m.SaveEffectPreset(0, "my rock"))
	require.NoError(t, eq.LoadPreset("flat"))
	require.NoError(t, m.LoadEffectPreset(0, "my rock"))
	assert.InDeltaSlice(t, rock, eq.Gains(), 1e-6)

	// Saving again overwrites the stored copy.
	require.NoError(t, eq.SetBandGain(0, -2))
	require.NoError(t, m.SaveEffectPreset(0, "my rock"))
	require.NoError(t, m.LoadEffectPreset(0, "flat"))
	require.NoError(t, m.LoadEffectPreset(0, "my rock"))
	assert.InDelta(t, -2, eq.Gains()[0], 1e-6)

	available, err := m.AvailablePresets()
	require.NoError(t, err)
	assert.Equal(t, "my rock", available[0])
	assert.Contains(t, available, "jazz")
}

func TestManager_BuiltinPresetFallback(t *testing.T) {
	m := newTestManager(t, nil)
	rv := NewReverb()
	require.NoError(t, m.AddEffect(rv))

	require.NoError(t, m.LoadEffectPreset(0, "cathedral"))
	assert.Equal(t, 0.95, rv.Parameters().RoomSize)

	assert.ErrorIs(t, m.LoadEffectPreset(0, "stadium"), domain.ErrPresetNotFound)
	assert.ErrorIs(t, m.SaveEffectPreset(0, "mine"), domain.ErrPresetNotFound)
	assert.ErrorIs(t, m.LoadEffectPreset(3, "hall"), domain.ErrIndexOutOfRange)

	require.NoError(t, m.AddEffect(NewVolume()))
	assert.ErrorIs(t, m.LoadEffectPreset(1, "hall"), domain.ErrPresetNotFound)
}

func TestManager_Report(t *testing.T) {
	m := newTestManager(t, nil)
	require.NoError(t, m.StandardChain())
	require.NoError(t, m.ProcessChain(context.Background(), noiseChunk(1, 512, 2, 44100)))

	report := m.Report()
	assert.Contains(t, report, "DSP Manager Report")
	assert.Contains(t, report, "Effects: 3")
	assert.Contains(t, report, "[1] Reverb (reverb)")
	assert.Contains(t, report, "Samples processed: 512")
}

func TestManager_Benchmark(t *testing.T) {
	m := newTestManager(t, nil)
	require.NoError(t, m.StandardChain())

	stats, err := m.Benchmark(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(4410), stats.TotalSamples)
	assert.Equal(t, int64(5), stats.Calls)
	assert.Greater(t, stats.RealtimeFactor, 0.0)
	assert.Zero(t, m.Monitor().Stats().Calls, "benchmark uses its own monitor")

	_, err = m.Benchmark(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Benchmark(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManager_Close(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.AddEffect(NewVolume()))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	err := m.ProcessChain(context.Background(), chunk.New(16, 2, 44100))
	assert.ErrorIs(t, err, domain.ErrManagerClosed)
	_, err = m.Benchmark(context.Background(), time.Second)
	assert.ErrorIs(t, err, domain.ErrManagerClosed)
}

func TestManager_UpdateConfigPool(t *testing.T) {
	m := newTestManager(t, nil)
	assert.Nil(t, m.pool)

	cfg := m.Config()
	cfg.EnableMultithreading = true
	cfg.MaxThreads = 4
	m.UpdateConfig(cfg)
	require.NotNil(t, m.pool)
	assert.Equal(t, 4, m.pool.size)
	assert.Same(t, m.pool, m.chain.pool.Load())

	old := m.pool
	cfg.MaxThreads = 1
	m.UpdateConfig(cfg)
	assert.Nil(t, m.pool)
	assert.Nil(t, m.chain.pool.Load())
	assert.False(t, old.run([]Effect{NewVolume()}, chunk.New(16, 2, 44100), &sync.WaitGroup{}),
		"a closed pool turns work away")

	cfg.EnablePerformanceMonitoring = false
	m.UpdateConfig(cfg)
	assert.False(t, m.Monitor().IsMonitoring())
}

func TestManager_ConfigureChain(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		m := newTestManager(t, nil)
		require.NoError(t, m.ConfigureChain(config.Default()))
		assert.Equal(t, []string{"Equalizer", "Volume", "Limiter"}, names(m.Effects()))
	})

	t.Run("everything enabled", func(t *testing.T) {
		cfg := config.Default()
		cfg.ReplayGain.Enabled = true
		cfg.ReplayGain.Mode = "album"
		cfg.Reverb.Enabled = true
		cfg.Reverb.Preset = "plate"
		cfg.Equalizer.Preset = "rock"
		cfg.Audio.VolumeDB = -3

		m := newTestManager(t, nil)
		require.NoError(t, m.ConfigureChain(cfg))
		effects := m.Effects()
		assert.Equal(t, []string{"ReplayGain", "Equalizer", "Reverb", "Volume", "Limiter"}, names(effects))
		assert.Equal(t, ReplayGainAlbum, effects[0].(*ReplayGain).Mode())
		assert.Equal(t, ReverbPlate, effects[2].(*Reverb).Parameters().Type)
		assert.Equal(t, -3.0, effects[3].(*Volume).GainDB())
	})

	t.Run("reverb fields", func(t *testing.T) {
		cfg := config.Default()
		cfg.Reverb.Enabled = true
		cfg.Reverb.Type = "hall"
		cfg.Reverb.RoomSize = 0.9

		m := newTestManager(t, nil)
		require.NoError(t, m.ConfigureChain(cfg))
		e, err := m.FindEffect("Reverb")
		require.NoError(t, err)
		p := e.(*Reverb).Parameters()
		assert.Equal(t, ReverbHall, p.Type)
		assert.Equal(t, 0.9, p.RoomSize)
	})

	t.Run("wet override wins over preset", func(t *testing.T) {
		cfg := config.Default()
		cfg.Reverb.Enabled = true
		cfg.Reverb.Preset = "plate"

		m := newTestManager(t, nil)
		require.NoError(t, m.ConfigureChain(cfg))
		e, err := m.FindEffect("Reverb")
		require.NoError(t, err)
		presetWet := e.(*Reverb).Parameters().WetLevel

		wet := 0.05
		cfg.Reverb.WetOverride = &wet
		require.NoError(t, m.ConfigureChain(cfg))
		e, err = m.FindEffect("Reverb")
		require.NoError(t, err)
		p := e.(*Reverb).Parameters()
		assert.Equal(t, ReverbPlate, p.Type)
		assert.Equal(t, 0.05, p.WetLevel)
		assert.NotEqual(t, presetWet, p.WetLevel)
	})

	t.Run("unknown preset", func(t *testing.T) {
		cfg := config.Default()
		cfg.Equalizer.Preset = "disco"
		m := newTestManager(t, nil)
		assert.ErrorIs(t, m.ConfigureChain(cfg), domain.ErrPresetNotFound)
	})
}
