package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/winramp/winramp-dsp/internal/audio/decoder"
	"github.com/winramp/winramp-dsp/internal/audio/dsp"
	"github.com/winramp/winramp-dsp/internal/audio/dsp/preset"
	"github.com/winramp/winramp-dsp/internal/config"
	"github.com/winramp/winramp-dsp/internal/infrastructure/db"
	"github.com/winramp/winramp-dsp/internal/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// CLI defines the command-line interface
type CLI struct {
	Config   string           `short:"c" type:"path" help:"Path to configuration file"`
	LogLevel string           `name:"log-level" help:"Log level (debug, info, warn, error)"`
	Version  kong.VersionFlag `short:"v" help:"Show version information"`

	Process ProcessCmd `cmd:"" help:"Process an audio file through the DSP chain into a WAV file"`
	Play    PlayCmd    `cmd:"" help:"Play an audio file through the DSP chain"`
	Presets PresetsCmd `cmd:"" help:"Manage stored effect presets"`
	Report  ReportCmd  `cmd:"" help:"Show the configured chain and validate it"`
	Bench   BenchCmd   `cmd:"" help:"Benchmark the configured chain on synthetic audio"`
}

// App carries what every command needs. It is built once in main and
// bound into kong.
type App struct {
	Config   *config.Config
	Log      *logger.Logger
	Presets  *preset.Store
	Registry *decoder.Registry

	database *db.Database
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("winramp-dsp"),
		kong.Description("Real-time audio effects processor"),
		kong.UsageOnError(),
		kong.Vars{"version": fmt.Sprintf("winramp-dsp %s (built %s)", Version, BuildTime)},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	app, err := newApp(cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "winramp-dsp: %v\n", err)
		os.Exit(1)
	}

	err = kctx.Run(app)
	app.Close()
	kctx.FatalIfErrorf(err)
}

func newApp(cli *CLI) (*App, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Logging
	if cli.LogLevel != "" {
		logCfg.Level = cli.LogLevel
	}
	log := logger.New(logCfg)
	log.Debug("WinRamp DSP starting",
		logger.String("version", Version),
		logger.String("build_time", BuildTime),
		logger.String("config", cfg.ConfigFile()),
	)

	dbCfg := db.DefaultConfig()
	if cfg.Presets.DatabasePath != "" {
		dbCfg.Path = cfg.Presets.DatabasePath
	}
	database, err := db.Open(dbCfg, log)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open preset database: %w", err)
	}

	return &App{
		Config:   cfg,
		Log:      log,
		Presets:  preset.NewStore(db.NewPresetRepository(database), log),
		Registry: decoder.NewRegistry(),
		database: database,
	}, nil
}

// NewManager builds a manager configured with the app's chain.
func (a *App) NewManager() (*dsp.Manager, error) {
	m := dsp.NewManager(dsp.NewContext(a.Log, a.Config.DSP, a.Presets))
	if err := m.ConfigureChain(a.Config); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (a *App) Close() {
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			a.Log.Warn("Failed to close database", logger.Error(err))
		}
	}
	a.Log.Close()
}
