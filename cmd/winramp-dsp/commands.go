package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/winramp/winramp-dsp/internal/audio"
	"github.com/winramp/winramp-dsp/internal/audio/dsp"
	"github.com/winramp/winramp-dsp/internal/audio/dsp/preset"
	"github.com/winramp/winramp-dsp/internal/audio/output"
	"github.com/winramp/winramp-dsp/internal/config"
	"github.com/winramp/winramp-dsp/internal/domain"
	"github.com/winramp/winramp-dsp/internal/logger"
)

// ChainFlags override the configured chain for one run.
type ChainFlags struct {
	EQPreset     string   `name:"eq-preset" help:"Equalizer preset (enables the equalizer)"`
	ReverbPreset string   `name:"reverb-preset" help:"Reverb preset (enables reverb)"`
	ReverbType   string   `name:"reverb-type" help:"Reverb algorithm: room, hall or plate (enables reverb)"`
	Wet          *float64 `name:"wet" help:"Reverb wet level, 0 to 1"`
	Volume       *float64 `name:"volume" help:"Output volume in dB"`
	Limiter      bool     `name:"limiter" xor:"limiter" help:"Run the output limiter"`
	NoLimiter    bool     `name:"no-limiter" xor:"limiter" help:"Skip the output limiter"`
	Block        int      `name:"block" help:"Frames per processing block (default from config)"`
}

func (f *ChainFlags) apply(cfg *config.Config) {
	if f.EQPreset != "" {
		cfg.Equalizer.Enabled = true
		cfg.Equalizer.Preset = f.EQPreset
	}
	if f.ReverbPreset != "" {
		cfg.Reverb.Enabled = true
		cfg.Reverb.Preset = f.ReverbPreset
	}
	if f.ReverbType != "" {
		cfg.Reverb.Enabled = true
		cfg.Reverb.Type = f.ReverbType
	}
	if f.Wet != nil {
		cfg.Reverb.WetLevel = *f.Wet
		cfg.Reverb.WetOverride = f.Wet
	}
	if f.Volume != nil {
		cfg.Audio.VolumeDB = *f.Volume
	}
	switch {
	case f.Limiter:
		cfg.Limiter.Enabled = true
	case f.NoLimiter:
		cfg.Limiter.Enabled = false
	}
	if f.Block > 0 {
		cfg.Audio.BlockSize = f.Block
	}
}

type ProcessCmd struct {
	In   string `arg:"" type:"existingfile" help:"Input audio file"`
	Out  string `arg:"" type:"path" help:"Output WAV file"`
	Bits int    `name:"bits" enum:"16,24" default:"16" help:"Output bit depth"`

	ChainFlags `embed:""`
}

func (c *ProcessCmd) Run(ctx context.Context, app *App) error {
	c.apply(app.Config)
	if err := app.Config.Validate(); err != nil {
		return err
	}

	m, err := app.NewManager()
	if err != nil {
		return err
	}
	defer m.Close()

	src, err := app.Registry.Open(c.In)
	if err != nil {
		return err
	}
	defer src.Close()

	sink, err := output.NewWAVFileSink(c.Out, c.Bits, app.Log)
	if err != nil {
		return err
	}

	p := audio.NewPipeline(src, m, sink, audio.Options{
		BlockFrames: app.Config.Audio.BlockSize,
		Log:         app.Log,
	})

	start := time.Now()
	if err := p.Run(ctx); err != nil {
		return err
	}
	elapsed := time.Since(start)

	progress := p.Progress()
	fmt.Printf("%s -> %s\n", c.In, c.Out)
	fmt.Printf("  %s, %d frames (%s) in %s",
		src.Format(), progress.Frames, progress.Position.Round(time.Millisecond), elapsed.Round(time.Millisecond))
	if elapsed > 0 {
		fmt.Printf(", %.1fx realtime", progress.Position.Seconds()/elapsed.Seconds())
	}
	fmt.Println()
	for _, w := range m.CheckPerformance() {
		fmt.Printf("  warning: %s\n", w)
	}
	return nil
}

type PlayCmd struct {
	In string `arg:"" type:"existingfile" help:"Audio file to play"`

	ChainFlags `embed:""`
}

func (c *PlayCmd) Run(ctx context.Context, app *App) error {
	c.apply(app.Config)
	if err := app.Config.Validate(); err != nil {
		return err
	}

	device, err := output.LookupDevice(app.Config.Audio.OutputDevice)
	if err != nil {
		return err
	}

	m, err := app.NewManager()
	if err != nil {
		return err
	}
	defer m.Close()

	// Keep the DSP settings and volume in step with edits to the config
	// file while playing.
	if app.Config.ConfigFile() != "" {
		app.Config.Watch(func(cfg *config.Config) {
			m.UpdateConfig(cfg.DSPSettings())
			if e, err := m.FindEffect("Volume"); err == nil {
				e.(*dsp.Volume).SetGainDB(cfg.Audio.VolumeDB)
			}
			app.Log.Info("Configuration reloaded", logger.String("file", cfg.ConfigFile()))
		})
	}

	src, err := app.Registry.Open(c.In)
	if err != nil {
		return err
	}
	defer src.Close()

	md := src.Metadata()
	title := md.Title
	if title == "" {
		title = c.In
	}
	if md.Artist != "" {
		title = md.Artist + " - " + title
	}
	fmt.Printf("Playing %s on %s (%s)\n", title, device.Name, md.Duration.Round(time.Second))

	latency := time.Duration(app.Config.DSP.MaxLatencyMS * float64(time.Millisecond))
	sink := output.NewOtoSink(latency, app.Log)
	p := audio.NewPipeline(src, m, sink, audio.Options{
		BlockFrames: app.Config.Audio.BlockSize,
		Log:         app.Log,
	})

	err = p.Run(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Println("Stopped")
		return nil
	}
	return err
}

type PresetsCmd struct {
	List   PresetsListCmd   `cmd:"" default:"1" help:"List stored and built-in presets"`
	Save   PresetsSaveCmd   `cmd:"" help:"Save the configured settings of one effect as a preset"`
	Delete PresetsDeleteCmd `cmd:"" help:"Delete a stored preset"`
	Export PresetsExportCmd `cmd:"" help:"Write a stored preset to a file"`
	Import PresetsImportCmd `cmd:"" help:"Store a preset read from a file"`
	Backup PresetsBackupCmd `cmd:"" help:"Copy the preset database to a file"`
}

type PresetsListCmd struct {
	Effect string `name:"effect" help:"Only list presets for this effect type"`
}

func (c *PresetsListCmd) Run(app *App) error {
	var stored []string
	var err error
	if c.Effect != "" {
		t, perr := dsp.ParseEffectType(c.Effect)
		if perr != nil {
			return perr
		}
		stored, err = app.Presets.ListForEffect(t.String())
	} else {
		stored, err = app.Presets.List()
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EFFECT\tPRESET\tSOURCE")
	for _, name := range stored {
		p, err := app.Presets.Load(name)
		if err != nil {
			app.Log.Warn("Skipping unreadable preset", logger.String("name", name), logger.Error(err))
			continue
		}
		fmt.Fprintf(w, "%s\t%s\tstored\n", p.StringOr(preset.EffectTypeKey, "-"), name)
	}

	for _, tmpl := range dsp.EffectTemplates() {
		if c.Effect != "" && !strings.EqualFold(tmpl.Type.String(), c.Effect) {
			continue
		}
		e, err := dsp.CreateEffect(tmpl.Type)
		if err != nil {
			continue
		}
		builtin, ok := e.(interface{ Presets() []string })
		if !ok {
			continue
		}
		for _, name := range builtin.Presets() {
			fmt.Fprintf(w, "%s\t%s\tbuilt-in\n", tmpl.Type, name)
		}
	}
	return w.Flush()
}

type PresetsSaveCmd struct {
	Name   string `arg:"" help:"Preset name"`
	Effect string `name:"effect" required:"" help:"Effect type to save (equalizer, reverb, limiter, volume, replay_gain)"`

	ChainFlags `embed:""`
}

func (c *PresetsSaveCmd) Run(app *App) error {
	t, err := dsp.ParseEffectType(c.Effect)
	if err != nil {
		return err
	}
	c.apply(app.Config)
	enableEffect(app.Config, t)

	m, err := app.NewManager()
	if err != nil {
		return err
	}
	defer m.Close()

	for i, e := range m.Effects() {
		if e.Type() != t {
			continue
		}
		if err := m.SaveEffectPreset(i, c.Name); err != nil {
			return err
		}
		fmt.Printf("Saved %s preset %q\n", t, c.Name)
		return nil
	}
	return fmt.Errorf("%w: %s is not part of the configured chain", domain.ErrEffectNotFound, t)
}

// enableEffect switches on the config section of t so ConfigureChain
// builds it.
func enableEffect(cfg *config.Config, t dsp.EffectType) {
	switch t {
	case dsp.EffectEqualizer:
		cfg.Equalizer.Enabled = true
	case dsp.EffectReverb:
		cfg.Reverb.Enabled = true
	case dsp.EffectLimiter:
		cfg.Limiter.Enabled = true
	case dsp.EffectReplayGain:
		cfg.ReplayGain.Enabled = true
	}
}

type PresetsDeleteCmd struct {
	Name string `arg:"" help:"Preset name"`
}

func (c *PresetsDeleteCmd) Run(app *App) error {
	if err := app.Presets.Delete(c.Name); err != nil {
		return err
	}
	if err := app.database.Vacuum(); err != nil {
		app.Log.Warn("Failed to compact preset database", logger.Error(err))
	}
	fmt.Printf("Deleted preset %q\n", c.Name)
	return nil
}

type PresetsExportCmd struct {
	Name string `arg:"" help:"Preset name"`
	Path string `arg:"" type:"path" help:"Destination file"`
}

func (c *PresetsExportCmd) Run(app *App) error {
	if err := app.Presets.Export(c.Name, c.Path); err != nil {
		return err
	}
	fmt.Printf("Exported %q to %s\n", c.Name, c.Path)
	return nil
}

type PresetsImportCmd struct {
	Path string `arg:"" type:"existingfile" help:"Preset file"`
}

func (c *PresetsImportCmd) Run(app *App) error {
	p, err := app.Presets.Import(c.Path)
	if err != nil {
		return err
	}
	fmt.Printf("Imported preset %q\n", p.Name())
	return nil
}

type PresetsBackupCmd struct {
	Path string `arg:"" type:"path" help:"Destination file"`
}

func (c *PresetsBackupCmd) Run(app *App) error {
	if err := app.database.Backup(c.Path); err != nil {
		return err
	}
	fmt.Printf("Backed up presets to %s\n", c.Path)
	return nil
}

type ReportCmd struct {
	ChainFlags `embed:""`
}

func (c *ReportCmd) Run(app *App) error {
	c.apply(app.Config)
	m, err := app.NewManager()
	if err != nil {
		return err
	}
	defer m.Close()

	fmt.Print(m.Report())
	if result := m.Validate(); !result.Valid {
		fmt.Println("\nValidation issues:")
		fmt.Println(result.Error())
	}

	stats, err := app.database.GetStats()
	if err != nil {
		app.Log.Warn("Failed to read preset database stats", logger.Error(err))
		return nil
	}
	fmt.Printf("\nPreset database: %v (%v presets, %v bytes)\n",
		stats["path"], stats["presets_count"], stats["size_bytes"])
	return nil
}

type BenchCmd struct {
	Seconds float64 `name:"seconds" default:"10" help:"Amount of audio to process"`

	ChainFlags `embed:""`
}

func (c *BenchCmd) Run(ctx context.Context, app *App) error {
	c.apply(app.Config)
	m, err := app.NewManager()
	if err != nil {
		return err
	}
	defer m.Close()

	stats, err := m.Benchmark(ctx, time.Duration(c.Seconds*float64(time.Second)))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Effects:\t%d\n", m.EffectCount())
	fmt.Fprintf(w, "Samples:\t%d\n", stats.TotalSamples)
	fmt.Fprintf(w, "Blocks:\t%d\n", stats.Calls)
	fmt.Fprintf(w, "Total:\t%.2f ms\n", stats.TotalMS)
	fmt.Fprintf(w, "Per block:\t%.3f ms avg, %.3f min, %.3f max\n", stats.AvgMS, stats.MinMS, stats.MaxMS)
	fmt.Fprintf(w, "CPU:\t%.2f%%\n", stats.CPUPercent)
	fmt.Fprintf(w, "Realtime factor:\t%.3f (processing / audio time)\n", stats.RealtimeFactor)
	if stats.RealtimeFactor > 0 {
		fmt.Fprintf(w, "Speed:\t%.1fx realtime\n", 1/stats.RealtimeFactor)
	}
	return w.Flush()
}
