// Package logging builds the zap logger shared by asmforge components.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/dshills/asmforge/internal/config"
)

// Logger is the root logger with a mutable level.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
	close func() error
}

// New builds a logger from cfg. Output goes to cfg.File when set and to
// stderr otherwise.
func New(cfg config.LogConfig) (*Logger, error) {
	if cfg.File == "" {
		return NewWithWriter(cfg, os.Stderr, isTerminal(os.Stderr))
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l, err := NewWithWriter(cfg, f, false)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	l.close = f.Close
	return l, nil
}

// NewWithWriter builds a logger writing to w. Console output is
// colorized when color is true.
func NewWithWriter(cfg config.LogConfig, w io.Writer, color bool) (*Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch cfg.Encoding {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "", "console":
		if color {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("log encoding %q: %w", cfg.Encoding, config.ErrInvalidValue)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), level)
	return &Logger{
		Logger: zap.New(core),
		level:  level,
	}, nil
}

// SetLevel changes the minimum enabled level.
func (l *Logger) SetLevel(lvl zapcore.Level) {
	l.level.SetLevel(lvl)
}

// Level returns the minimum enabled level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// Close flushes buffered entries and closes the log file, if any.
func (l *Logger) Close() error {
	_ = l.Sync()
	if l.close != nil {
		return l.close()
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
