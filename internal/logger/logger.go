package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger struct {
	logger     zerolog.Logger
	mu         sync.RWMutex
	level      zerolog.Level
	fileWriter *lumberjack.Logger
}

type Config struct {
	Level      string `json:"level" mapstructure:"level"`
	Console    bool   `json:"console" mapstructure:"console"`
	File       bool   `json:"file" mapstructure:"file"`
	FilePath   string `json:"file_path" mapstructure:"file_path"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size"` // megabytes
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `json:"max_age" mapstructure:"max_age"` // days
	Compress   bool   `json:"compress" mapstructure:"compress"`
	JSONFormat bool   `json:"json_format" mapstructure:"json_format"`
	Caller     bool   `json:"caller" mapstructure:"caller"`
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Console:    true,
		File:       false,
		FilePath:   filepath.Join(DataDir(), "logs", "winramp-dsp.log"),
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
		JSONFormat: false,
		Caller:     false,
	}
}

// New builds a logger writing to the console and/or a rotated file.
func New(cfg Config) *Logger {
	var outputs []io.Writer

	if cfg.Console {
		if cfg.JSONFormat {
			outputs = append(outputs, os.Stderr)
		} else {
			outputs = append(outputs, consoleWriter(os.Stderr))
		}
	}

	l := &Logger{}
	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		}

		l.fileWriter = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		outputs = append(outputs, l.fileWriter)
	}

	if len(outputs) == 0 {
		outputs = append(outputs, io.Discard)
	}

	l.init(zerolog.MultiLevelWriter(outputs...), cfg.Level, cfg.Caller)
	return l
}

// NewWithWriter logs JSON lines to w. Used by tests to capture output.
func NewWithWriter(w io.Writer, level string) *Logger {
	l := &Logger{}
	l.init(w, level, false)
	return l
}

// Nop discards everything.
func Nop() *Logger {
	l := &Logger{}
	l.logger = zerolog.Nop()
	l.level = zerolog.Disabled
	return l
}

func (l *Logger) init(w io.Writer, level string, caller bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	l.level = lvl

	l.logger = zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	if caller {
		l.logger = l.logger.With().Caller().Logger()
	}
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("%-5s", i))
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("%s", i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s:", i)
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprintf("%v", i)
		},
	}
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.emit(zerolog.DebugLevel, msg, fields)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.emit(zerolog.InfoLevel, msg, fields)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.emit(zerolog.WarnLevel, msg, fields)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.emit(zerolog.ErrorLevel, msg, fields)
}

func (l *Logger) emit(level zerolog.Level, msg string, fields []Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	event := l.logger.WithLevel(level)
	if event == nil {
		return
	}
	for _, field := range fields {
		event = field.Apply(event)
	}
	event.Msg(msg)
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level string) bool {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return lvl >= l.level && l.level != zerolog.Disabled
}

// With returns a child logger that adds fields to every message. The child
// shares the parent's file writer.
func (l *Logger) With(fields ...Field) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ctx := l.logger.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &Logger{
		logger:     ctx.Logger(),
		level:      l.level,
		fileWriter: l.fileWriter,
	}
}

func (l *Logger) SetLevel(level string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}

	l.level = lvl
	l.logger = l.logger.Level(lvl)
	return nil
}

func (l *Logger) GetLevel() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level.String()
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileWriter != nil {
		return l.fileWriter.Close()
	}
	return nil
}

type Field struct {
	Key   string
	Value interface{}
}

func (f Field) Apply(event *zerolog.Event) *zerolog.Event {
	if err, ok := f.Value.(error); ok {
		return event.AnErr(f.Key, err)
	}
	return event.Interface(f.Key, f.Value)
}

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value}
}

func Error(err error) Field {
	return Field{Key: "error", Value: err}
}

func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// DataDir is the per-user directory for logs and the preset database.
func DataDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "WinRamp")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share", "winramp")
}
