package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger passed to every component. Fields added
// with the With methods stay on the returned Logger only.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	WithComponent(component string) Logger
	WithRun(label, competence string) Logger
}

type Fields map[string]interface{}

// Field keys shared by every package, so one run can be followed across
// parser, loader and reconciler records.
const (
	FieldComponent  = "component"
	FieldRun        = "run"
	FieldCompetence = "competence"
	FieldFile       = "file"
	FieldSource     = "source"
)

// Config selects level, format and destination.
type Config struct {
	Level            Level  `json:"level" yaml:"level"`
	Format           Format `json:"format" yaml:"format"`
	Output           Output `json:"output" yaml:"output"`
	File             string `json:"file,omitempty" yaml:"file,omitempty"`
	DisableTimestamp bool   `json:"disable_timestamp,omitempty" yaml:"disable_timestamp,omitempty"`
	CallerInfo       bool   `json:"caller_info,omitempty" yaml:"caller_info,omitempty"`

	// Writer overrides Output when set. Used by tests to capture records.
	Writer io.Writer `json:"-" yaml:"-"`
}

type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

type Format string

const (
	JSONFormat Format = "json"
	TextFormat Format = "text"
)

type Output string

const (
	StdoutOutput Output = "stdout"
	StderrOutput Output = "stderr"
	FileOutput   Output = "file"
)

// logrusLogger adapts a logrus entry to the Logger interface. Holding the
// entry rather than the bare logger keeps fields attached by WithField.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogger builds a logrus-backed Logger from config. A nil config means
// DefaultConfig.
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logger configuration: %w", err)
	}

	level, err := logrus.ParseLevel(string(config.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	out, err := config.writer()
	if err != nil {
		return nil, fmt.Errorf("failed to set log output: %w", err)
	}

	base := &logrus.Logger{
		Out:          out,
		Formatter:    config.formatter(),
		Hooks:        make(logrus.LevelHooks),
		Level:        level,
		ExitFunc:     os.Exit,
		ReportCaller: config.CallerInfo,
	}
	return &logrusLogger{entry: logrus.NewEntry(base)}, nil
}

// DefaultConfig logs info and above as text on stderr, leaving stdout to
// the reports.
func DefaultConfig() *Config {
	return &Config{Level: InfoLevel, Format: TextFormat, Output: StderrOutput}
}

// DebugConfig is DefaultConfig at debug level with caller locations.
func DebugConfig() *Config {
	c := DefaultConfig()
	c.Level = DebugLevel
	c.CallerInfo = true
	return c
}

func (c *Config) Validate() error {
	switch c.Level {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
	default:
		return fmt.Errorf("invalid log level: %s", c.Level)
	}

	switch c.Format {
	case JSONFormat, TextFormat:
	default:
		return fmt.Errorf("invalid log format: %s", c.Format)
	}

	if c.Writer != nil {
		return nil
	}
	switch c.Output {
	case StdoutOutput, StderrOutput:
	case FileOutput:
		if strings.TrimSpace(c.File) == "" {
			return fmt.Errorf("log file path is required for file output")
		}
	default:
		return fmt.Errorf("invalid log output: %s", c.Output)
	}
	return nil
}

func (c *Config) writer() (io.Writer, error) {
	switch {
	case c.Writer != nil:
		return c.Writer, nil
	case c.Output == StdoutOutput:
		return os.Stdout, nil
	case c.Output == FileOutput:
		if err := os.MkdirAll(filepath.Dir(c.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return f, nil
	}
	return os.Stderr, nil
}

// callerLocation renders file:line without the package path.
func callerLocation(f *runtime.Frame) string {
	return filepath.Base(f.File) + ":" + strconv.Itoa(f.Line)
}

func (c *Config) formatter() logrus.Formatter {
	if c.Format == JSONFormat {
		return &logrus.JSONFormatter{
			DisableTimestamp: c.DisableTimestamp,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				return f.Function + "()", callerLocation(f)
			},
		}
	}
	return &logrus.TextFormatter{
		DisableTimestamp: c.DisableTimestamp,
		FullTimestamp:    !c.DisableTimestamp,
		TimestampFormat:  time.DateTime,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return "", callerLocation(f)
		},
	}
}

func (l *logrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusLogger) Info(args ...interface{}) { l.entry.Info(args...) }

func (l *logrusLogger) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

func (l *logrusLogger) Warn(args ...interface{}) { l.entry.Warn(args...) }

func (l *logrusLogger) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

func (l *logrusLogger) Error(args ...interface{}) { l.entry.Error(args...) }

func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}

func (l *logrusLogger) WithComponent(component string) Logger {
	return l.WithField(FieldComponent, component)
}

// WithRun tags records with a run label and competence. An empty competence
// is logged as "all".
func (l *logrusLogger) WithRun(label, competence string) Logger {
	if competence == "" {
		competence = "all"
	}
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields{FieldRun: label, FieldCompetence: competence})}
}

// Discard returns a logger that drops every record. Handy for tests and for
// library callers that do not want output.
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

var globalLogger = mustDefault()

func mustDefault() Logger {
	l, err := NewLogger(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return l
}

// SetGlobalLogger replaces the process-wide logger. nil is ignored.
func SetGlobalLogger(logger Logger) {
	if logger != nil {
		globalLogger = logger
	}
}

// GetGlobalLogger returns the process-wide logger.
func GetGlobalLogger() Logger {
	return globalLogger
}
