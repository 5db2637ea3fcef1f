package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/godamri/helix-actionlog/pkg/telemetry"
	"github.com/lmittmann/tint"
)

type Config struct {
	Level  string `envconfig:"LOG_LEVEL" yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `envconfig:"LOG_FORMAT" yaml:"format" default:"json" validate:"oneof=json console"`
	Source bool   `envconfig:"LOG_SOURCE" yaml:"source" default:"false"`
}

// secretKeys are attribute keys whose values never reach the output.
var secretKeys = map[string]bool{
	"authorization": true,
	"password":      true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
}

func New(cfg Config) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter builds the service logger on w: JSON for machines, tint for a terminal.
// Records pass through the OTel handler, which adds trace, request and actor ids.
func NewWithWriter(cfg Config, w io.Writer) *slog.Logger {
	level := ParseLevel(cfg.Level)

	var h slog.Handler
	if cfg.Format == "console" {
		h = tint.NewHandler(w, &tint.Options{
			Level:       level,
			AddSource:   cfg.Source,
			TimeFormat:  time.TimeOnly,
			ReplaceAttr: redact,
		})
	} else {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			AddSource:   cfg.Source,
			ReplaceAttr: redact,
		})
	}
	return slog.New(telemetry.NewOTelHandler(h))
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[redacted]")
	}
	return a
}

// ParseLevel maps a config level name to slog; anything unknown is info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
