// Package logger は slog ベースのアプリケーションロガーを提供します。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger はアプリケーション全体で使用するロガーです。
type Logger struct {
	*slog.Logger
}

// New は出力先・レベル・形式を指定してロガーを作成します。
func New(w io.Writer, level string, format string) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewStdout は標準出力に書き込むロガーを作成します。
func NewStdout(level string, format string) *Logger {
	return New(os.Stdout, level, format)
}

// Nop は何も出力しないロガーを返します（テスト用）。
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With は属性を付与した子ロガーを返します。
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Fatal は Error 出力後に os.Exit(1) します。
func (l *Logger) Fatal(msg string, args ...any) {
	l.Logger.Error(msg, args...)
	os.Exit(1)
}

// ParseLevel はレベル文字列を slog.Level に変換します。不明な値は info 扱いです。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
