package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/winramp/winramp-dsp/internal/logger"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logger.Config    `mapstructure:"logging"`
	Audio      AudioConfig      `mapstructure:"audio"`
	DSP        DSPConfig        `mapstructure:"dsp"`
	Equalizer  EqualizerConfig  `mapstructure:"equalizer"`
	Reverb     ReverbConfig     `mapstructure:"reverb"`
	Limiter    LimiterConfig    `mapstructure:"limiter"`
	ReplayGain ReplayGainConfig `mapstructure:"replay_gain"`
	Presets    PresetsConfig    `mapstructure:"presets"`
	v          *viper.Viper
	mu         sync.RWMutex
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	DataDir string `mapstructure:"data_dir"`
}

type AudioConfig struct {
	OutputDevice string  `mapstructure:"output_device"`
	BlockSize    int     `mapstructure:"block_size"` // frames per chunk
	SampleRate   int     `mapstructure:"sample_rate"`
	Channels     int     `mapstructure:"channels"`
	VolumeDB     float64 `mapstructure:"volume_db"`
}

type DSPConfig struct {
	EnableMultithreading        bool    `mapstructure:"enable_multithreading"`
	MaxThreads                  int     `mapstructure:"max_threads"`
	EnablePerformanceMonitoring bool    `mapstructure:"enable_performance_monitoring"`
	MemoryPoolSize              int     `mapstructure:"memory_pool_size"` // bytes
	TargetCPUUsage              float64 `mapstructure:"target_cpu_usage"` // percent
	MaxLatencyMS                float64 `mapstructure:"max_latency_ms"`
	MaxEffects                  int     `mapstructure:"max_effects"`
}

type EqualizerConfig struct {
	Enabled    bool      `mapstructure:"enabled"`
	Preset     string    `mapstructure:"preset"`
	Bands      []float64 `mapstructure:"bands"` // gains in dB, applied over the preset
	OutputGain float64   `mapstructure:"output_gain"`
	AutoGain   bool      `mapstructure:"auto_gain"`
}

type ReverbConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Type             string  `mapstructure:"type"` // room, hall, plate
	Preset           string  `mapstructure:"preset"`
	RoomSize         float64 `mapstructure:"room_size"`
	Damping          float64 `mapstructure:"damping"`
	WetLevel         float64 `mapstructure:"wet_level"`
	DryLevel         float64 `mapstructure:"dry_level"`
	Width            float64 `mapstructure:"width"`
	PreDelay         float64 `mapstructure:"pre_delay"` // ms
	DecayTime        float64 `mapstructure:"decay_time"`
	Diffusion        float64 `mapstructure:"diffusion"`
	EnableModulation bool    `mapstructure:"enable_modulation"`
	EnableFiltering  bool    `mapstructure:"enable_filtering"`

	// WetOverride is set from the command line and wins over a preset's wet level.
	WetOverride *float64 `mapstructure:"-"`
}

type LimiterConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Threshold float64 `mapstructure:"threshold"` // dBFS
	Release   float64 `mapstructure:"release"`   // ms
}

type ReplayGainConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	Mode            string  `mapstructure:"mode"` // track, album, off
	PreAmp          float64 `mapstructure:"preamp"`
	PreventClipping bool    `mapstructure:"prevent_clipping"`
}

type PresetsConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Load reads path, or searches the user and system config directories when
// path is empty. A missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	c := &Config{v: viper.New()}
	c.setDefaults()

	c.v.SetEnvPrefix("WINRAMP")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	if path != "" {
		c.v.SetConfigFile(path)
	} else {
		c.v.SetConfigName("dsp")
		c.v.SetConfigType("yaml")
		c.v.AddConfigPath(userConfigDir())
		c.v.AddConfigPath(systemConfigDir())
		c.v.AddConfigPath(".")
	}

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := c.v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	c := &Config{v: viper.New()}
	c.setDefaults()
	if err := c.v.Unmarshal(c); err != nil {
		panic(fmt.Sprintf("config: defaults do not unmarshal: %v", err))
	}
	return c
}

// Watch re-reads the file when it changes and passes the new values to fn.
// Reloads that fail validation are dropped.
func (c *Config) Watch(fn func(*Config)) {
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next := &Config{v: c.v}
		if err := c.v.Unmarshal(next); err != nil {
			return
		}
		if err := next.Validate(); err != nil {
			return
		}

		c.mu.Lock()
		c.App = next.App
		c.Logging = next.Logging
		c.Audio = next.Audio
		c.DSP = next.DSP
		c.Equalizer = next.Equalizer
		c.Reverb = next.Reverb
		c.Limiter = next.Limiter
		c.ReplayGain = next.ReplayGain
		c.Presets = next.Presets
		c.mu.Unlock()

		if fn != nil {
			fn(c)
		}
	})
	c.v.WatchConfig()
}

func (c *Config) setDefaults() {
	dataDir := logger.DataDir()

	c.v.SetDefault("app.name", "WinRamp DSP")
	c.v.SetDefault("app.version", "1.0.0")
	c.v.SetDefault("app.data_dir", dataDir)

	def := logger.DefaultConfig()
	c.v.SetDefault("logging.level", def.Level)
	c.v.SetDefault("logging.console", def.Console)
	c.v.SetDefault("logging.file", def.File)
	c.v.SetDefault("logging.file_path", def.FilePath)
	c.v.SetDefault("logging.max_size", def.MaxSize)
	c.v.SetDefault("logging.max_backups", def.MaxBackups)
	c.v.SetDefault("logging.max_age", def.MaxAge)
	c.v.SetDefault("logging.compress", def.Compress)
	c.v.SetDefault("logging.json_format", def.JSONFormat)
	c.v.SetDefault("logging.caller", def.Caller)

	c.v.SetDefault("audio.output_device", "default")
	c.v.SetDefault("audio.block_size", 1024)
	c.v.SetDefault("audio.sample_rate", 44100)
	c.v.SetDefault("audio.channels", 2)
	c.v.SetDefault("audio.volume_db", 0.0)

	c.v.SetDefault("dsp.enable_multithreading", false)
	c.v.SetDefault("dsp.max_threads", 4)
	c.v.SetDefault("dsp.enable_performance_monitoring", true)
	c.v.SetDefault("dsp.memory_pool_size", 16*1024*1024)
	c.v.SetDefault("dsp.target_cpu_usage", 10.0)
	c.v.SetDefault("dsp.max_latency_ms", 20.0)
	c.v.SetDefault("dsp.max_effects", 16)

	c.v.SetDefault("equalizer.enabled", true)
	c.v.SetDefault("equalizer.preset", "flat")
	c.v.SetDefault("equalizer.bands", []float64{})
	c.v.SetDefault("equalizer.output_gain", 0.0)
	c.v.SetDefault("equalizer.auto_gain", false)

	c.v.SetDefault("reverb.enabled", false)
	c.v.SetDefault("reverb.type", "room")
	c.v.SetDefault("reverb.preset", "")
	c.v.SetDefault("reverb.room_size", 0.5)
	c.v.SetDefault("reverb.damping", 0.5)
	c.v.SetDefault("reverb.wet_level", 0.3)
	c.v.SetDefault("reverb.dry_level", 1.0)
	c.v.SetDefault("reverb.width", 1.0)
	c.v.SetDefault("reverb.pre_delay", 0.0)
	c.v.SetDefault("reverb.decay_time", 1.0)
	c.v.SetDefault("reverb.diffusion", 0.7)
	c.v.SetDefault("reverb.enable_modulation", true)
	c.v.SetDefault("reverb.enable_filtering", false)

	c.v.SetDefault("limiter.enabled", true)
	c.v.SetDefault("limiter.threshold", -0.5)
	c.v.SetDefault("limiter.release", 50.0)

	c.v.SetDefault("replay_gain.enabled", false)
	c.v.SetDefault("replay_gain.mode", "track")
	c.v.SetDefault("replay_gain.preamp", 0.0)
	c.v.SetDefault("replay_gain.prevent_clipping", true)

	c.v.SetDefault("presets.database_path", filepath.Join(dataDir, "presets.db"))
}

// Validate checks ranges the DSP engine depends on.
func (c *Config) Validate() error {
	var problems []string

	if c.Audio.BlockSize < 16 || c.Audio.BlockSize > 65536 {
		problems = append(problems, fmt.Sprintf("audio.block_size %d out of range [16, 65536]", c.Audio.BlockSize))
	}
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		problems = append(problems, fmt.Sprintf("audio.sample_rate %d out of range", c.Audio.SampleRate))
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 8 {
		problems = append(problems, fmt.Sprintf("audio.channels %d out of range [1, 8]", c.Audio.Channels))
	}
	if c.DSP.MaxThreads < 1 {
		problems = append(problems, "dsp.max_threads must be at least 1")
	}
	if c.DSP.MaxEffects < 1 {
		problems = append(problems, "dsp.max_effects must be at least 1")
	}
	if c.DSP.TargetCPUUsage <= 0 || c.DSP.TargetCPUUsage > 100 {
		problems = append(problems, fmt.Sprintf("dsp.target_cpu_usage %.1f out of range (0, 100]", c.DSP.TargetCPUUsage))
	}
	if c.DSP.MaxLatencyMS <= 0 {
		problems = append(problems, "dsp.max_latency_ms must be positive")
	}
	switch strings.ToLower(c.Reverb.Type) {
	case "room", "hall", "plate":
	default:
		problems = append(problems, fmt.Sprintf("reverb.type %q is not room, hall or plate", c.Reverb.Type))
	}
	switch strings.ToLower(c.ReplayGain.Mode) {
	case "track", "album", "off":
	default:
		problems = append(problems, fmt.Sprintf("replay_gain.mode %q is not track, album or off", c.ReplayGain.Mode))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func userConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "WinRamp")
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "winramp")
}

func systemConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("ProgramData"), "WinRamp")
	}
	return "/etc/winramp"
}

// Save writes the current values back to the file they were loaded from.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.WriteConfig()
}

// SaveAs writes the current values to path, creating the directory.
func (c *Config) SaveAs(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return c.v.WriteConfigAs(path)
}

// ConfigFile is the path the values were read from, if any.
func (c *Config) ConfigFile() string {
	return c.v.ConfigFileUsed()
}

// DSPSettings returns a copy of the dsp section safe to use while Watch runs.
func (c *Config) DSPSettings() DSPConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DSP
}

// Set overrides key in the backing store and refreshes the typed sections.
func (c *Config) Set(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v.Set(key, value)
	return c.v.Unmarshal(c)
}
