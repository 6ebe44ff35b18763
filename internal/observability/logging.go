package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format is "json" or "text". Defaults to json.
	Format string

	// Output defaults to os.Stderr.
	Output io.Writer

	AddSource bool

	// RedactPatterns are extra regular expressions whose matches are replaced
	// with [REDACTED].
	RedactPatterns []string
}

type contextKey string

const (
	turnIDKey   contextKey = "turn_id"
	threadTSKey contextKey = "thread_ts"
)

const redacted = "[REDACTED]"

// DefaultRedactPatterns covers the credentials this process handles.
var DefaultRedactPatterns = []string{
	// Slack bot, user and app-level tokens
	`xox[abposr]-[A-Za-z0-9-]{10,}`,
	`xapp-[A-Za-z0-9-]{10,}`,

	// Google API keys
	`AIza[0-9A-Za-z_\-]{35}`,

	`(?i)(bearer)\s+[A-Za-z0-9_\-\.]{16,}`,
	`(?i)(api[_-]?key|token|secret|password)(["']?\s*[:=]\s*["']?)[^\s"',]{8,}`,
}

var sensitiveKeys = map[string]bool{
	"token":         true,
	"bot_token":     true,
	"app_token":     true,
	"api_key":       true,
	"apikey":        true,
	"secret":        true,
	"password":      true,
	"authorization": true,
}

// NewLogger creates a structured logger with the given configuration.
//
// An empty or unknown level means info.
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     LevelFromString(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "text") {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	patterns := append(append([]string(nil), DefaultRedactPatterns...), config.RedactPatterns...)
	redacts := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return slog.New(&redactingHandler{next: handler, redacts: redacts})
}

// LevelFromString converts a string to a slog.Level.
// Returns LevelInfo if the string is not recognized.
func LevelFromString(s string) slog.Level {
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

// WithTurn stores the turn and thread identifiers on ctx for log correlation.
func WithTurn(ctx context.Context, turnID, threadTS string) context.Context {
	ctx = context.WithValue(ctx, turnIDKey, turnID)
	return context.WithValue(ctx, threadTSKey, threadTS)
}

// TurnID returns the turn identifier stored by WithTurn.
func TurnID(ctx context.Context) string {
	id, _ := ctx.Value(turnIDKey).(string)
	return id
}

// redactingHandler rewrites messages and string-ish attributes before
// handing records to the wrapped handler.
type redactingHandler struct {
	next    slog.Handler
	redacts []*regexp.Regexp
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, h.redactString(record.Message), record.PC)
	if ctx != nil {
		if id, ok := ctx.Value(turnIDKey).(string); ok && id != "" {
			out.AddAttrs(slog.String(string(turnIDKey), id))
		}
		if ts, ok := ctx.Value(threadTSKey).(string); ok && ts != "" {
			out.AddAttrs(slog.String(string(threadTSKey), ts))
		}
	}
	record.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(h.redactAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cleaned := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		cleaned[i] = h.redactAttr(attr)
	}
	return &redactingHandler{next: h.next.WithAttrs(cleaned), redacts: h.redacts}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), redacts: h.redacts}
}

func (h *redactingHandler) redactAttr(attr slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(strings.ReplaceAll(attr.Key, "-", "_"))] {
		return slog.String(attr.Key, redacted)
	}
	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, h.redactString(value.String()))
	case slog.KindGroup:
		group := value.Group()
		cleaned := make([]any, len(group))
		for i, a := range group {
			cleaned[i] = h.redactAttr(a)
		}
		return slog.Group(attr.Key, cleaned...)
	case slog.KindAny:
		switch v := value.Any().(type) {
		case error:
			return slog.String(attr.Key, h.redactString(v.Error()))
		case []byte:
			return slog.String(attr.Key, h.redactString(string(v)))
		}
	}
	return slog.Attr{Key: attr.Key, Value: value}
}

func (h *redactingHandler) redactString(s string) string {
	for _, re := range h.redacts {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}
