package dsp

import (
	"github.com/winramp/winramp-dsp/internal/audio/dsp/preset"
	"github.com/winramp/winramp-dsp/internal/config"
	"github.com/winramp/winramp-dsp/internal/logger"
)

// Context carries the collaborators a Manager and its effects share. It is
// built once by the caller and passed down; nothing in this package keeps
// global state.
type Context struct {
	Log     *logger.Logger
	Config  config.DSPConfig
	Presets *preset.Store
}

// NewContext fills in a no-op logger when log is nil. store may be nil, in
// which case preset persistence is unavailable.
func NewContext(log *logger.Logger, cfg config.DSPConfig, store *preset.Store) *Context {
	if log == nil {
		log = logger.Nop()
	}
	return &Context{Log: log, Config: cfg, Presets: store}
}

// DefaultContext uses the built-in DSP settings and discards log output.
func DefaultContext() *Context {
	return NewContext(nil, config.Default().DSP, nil)
}

func (c *Context) logger() *logger.Logger {
	if c == nil || c.Log == nil {
		return logger.Nop()
	}
	return c.Log
}
