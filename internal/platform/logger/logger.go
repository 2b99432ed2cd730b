package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

// Config はロガーの設定
type Config struct {
	Level  slog.Level
	Format string // "json" or "text"
}

// DefaultConfig はデフォルトのロガー設定
func DefaultConfig() Config {
	return Config{
		Level:  slog.LevelInfo,
		Format: "json",
	}
}

// ParseLevel はログレベル文字列をslog.Levelに変換します
// 未知の文字列はinfoとして扱います
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New は新しいロガーを作成し、デフォルトロガーとして設定します
func New(cfg Config) *slog.Logger {
	var handler slog.Handler

	switch cfg.Format {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      cfg.Level,
			TimeFormat: "15:04:05",
		})
	default: // "json"
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.Level,
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
