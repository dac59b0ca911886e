// Package logging は構造化ロガーの生成とエラー出力の補助を提供します。
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/samber/oops"
)

const (
	FormatJSON = "json"
	FormatText = "text"
)

// Setup は service 属性付きの slog.Logger を作成します。
// format が "text" 以外なら JSON で出力します。w が nil なら標準エラー出力に書き込みます。
func Setup(service, format string, level slog.Level, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if format == FormatText {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("service", service)
}

// FormatForMode は gin のモードに合わせた出力形式を返します。
func FormatForMode(ginMode string) string {
	if ginMode == "release" {
		return FormatJSON
	}
	return FormatText
}

// LogError はエラーをログに出力します。oops エラーであればコードとコンテキストも出力します。
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error, attrs ...any) {
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs = append(attrs, "error", oopsErr.Error())
		if code := oopsErr.Code(); code != nil {
			attrs = append(attrs, "code", code)
		}
		if kv := oopsErr.Context(); len(kv) > 0 {
			attrs = append(attrs, "context", kv)
		}
		logger.ErrorContext(ctx, msg, attrs...)
		return
	}
	attrs = append(attrs, "error", err)
	logger.ErrorContext(ctx, msg, attrs...)
}
