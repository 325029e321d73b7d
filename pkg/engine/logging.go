package engine

import (
	"io"
	"log/slog"
	"strings"
)

// sensitiveKeys are replaced with [REDACTED] in every log record.
var sensitiveKeys = map[string]bool{
	"password": true, "access_key": true, "token": true, "secret": true,
	"api_key": true, "private_key": true, "auth_token": true, "refresh_token": true,
	"authorization": true, "credential": true, "ssh_key": true,
}

// NewLogger builds the tool logger. format is "json" or "text".
func NewLogger(w io.Writer, format string, verbose bool) *slog.Logger {
	opts := &slog.HandlerOptions{ReplaceAttr: redactSensitiveData}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// redactSensitiveData scrubs sensitive keys from logs.
func redactSensitiveData(groups []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}
