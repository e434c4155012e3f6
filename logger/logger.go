package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger bound to a service name.
type Logger struct {
	zl      zerolog.Logger
	service string
}

// Init builds the global logger from cfg.
func Init(cfg Config) {
	cfg.ApplyDefaults()
	SetGlobalLogger(New(&cfg, cfg.ServiceName))
}

// New builds a logger from cfg. An unknown level falls back to info.
func New(cfg *Config, serviceName string) *Logger {
	var zl zerolog.Logger
	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		zl = zerolog.New(consoleWriter(outputWriter(cfg.Output), serviceName, cfg.NoColor))
	default:
		zl = zerolog.New(outputWriter(cfg.Output))
	}
	zl = zl.Level(parseLevel(cfg.Level))

	zc := zl.With()
	if cfg.Timestamp {
		zc = zc.Timestamp()
	}
	if cfg.Caller {
		zc = zc.Caller()
	}
	if serviceName != "" && serviceName != "default" {
		zc = zc.Str(FieldService, serviceName)
	}
	return &Logger{zl: zc.Logger(), service: serviceName}
}

// NewWithWriter returns a JSON logger writing to w.
func NewWithWriter(w io.Writer, level, serviceName string) *Logger {
	zl := zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
	return &Logger{zl: zl, service: serviceName}
}

// NewDefault returns an info level console logger on stdout.
func NewDefault(serviceName string) *Logger {
	cfg := Config{}
	cfg.ApplyDefaults()
	return New(&cfg, serviceName)
}

func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

type contextKey int

const (
	traceIDKey contextKey = iota
	stageKey
)

// ContextWithTraceID stores the envelope trace id on ctx.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey).(string)
	return v, ok
}

// ContextWithStage stores the id of the stage running a transform on ctx.
func ContextWithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

func StageFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(stageKey).(string)
	return v, ok
}

// WithContext tags entries with the trace id and stage found on ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	zc := l.zl.With()
	if v, ok := TraceIDFromContext(ctx); ok {
		zc = zc.Str(FieldTraceID, v)
	}
	if v, ok := StageFromContext(ctx); ok {
		zc = zc.Str(FieldStage, v)
	}
	return l.derive(zc)
}

func (l *Logger) WithComponent(name string) *Logger {
	return l.derive(l.zl.With().Str(FieldComponent, name))
}

func (l *Logger) WithError(err error) *Logger {
	return l.derive(l.zl.With().Err(err))
}

func (l *Logger) derive(zc zerolog.Context) *Logger {
	return &Logger{zl: zc.Logger(), service: l.service}
}

// Level is the minimum level the logger writes.
func (l *Logger) Level() zerolog.Level { return l.zl.GetLevel() }

func (l *Logger) Debug(msg string, fields ...map[string]any) { emit(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...map[string]any)  { emit(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...map[string]any)  { emit(l.zl.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...map[string]any) { emit(l.zl.Error(), msg, fields) }

// emit tolerates the nil event zerolog returns for a disabled level.
func emit(e *zerolog.Event, msg string, fields []map[string]any) {
	for _, fm := range fields {
		for k, v := range fm {
			e = e.Interface(k, v)
		}
	}
	e.Msg(msg)
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetGlobalLogger returns the logger installed by Init or SetGlobalLogger,
// creating a default console logger on first use.
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewDefault("default")
	}
	return globalLogger
}

// Get returns the global logger tagged with component.
func Get(component string) *Logger {
	return GetGlobalLogger().WithComponent(component)
}

func Debug(msg string, fields ...map[string]any) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...map[string]any)  { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...map[string]any)  { GetGlobalLogger().Warn(msg, fields...) }
func Error(msg string, fields ...map[string]any) { GetGlobalLogger().Error(msg, fields...) }

func WithContext(ctx context.Context) *Logger {
	return GetGlobalLogger().WithContext(ctx)
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func outputWriter(output string) io.Writer {
	if strings.EqualFold(output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

var levelTags = map[string]struct{ short, color string }{
	"debug": {"DBG", "\033[36m"},
	"info":  {"INF", "\033[32m"},
	"warn":  {"WRN", "\033[33m"},
	"error": {"ERR", "\033[31m"},
	"fatal": {"FTL", "\033[35m"},
}

// consoleWriter prints "[SVC][INF]" prefixed lines; SVC is the first three
// letters of the service name.
func consoleWriter(out io.Writer, serviceName string, noColor bool) zerolog.ConsoleWriter {
	prefix := ""
	if serviceName != "" && serviceName != "default" && len(serviceName) >= 3 {
		prefix = "[" + strings.ToUpper(serviceName[:3]) + "]"
		if !noColor {
			prefix = "\033[34m" + prefix + "\033[0m"
		}
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		NoColor:    noColor,
		FormatLevel: func(i any) string {
			return prefix + levelTag(fmt.Sprint(i), noColor)
		},
		FormatFieldName: func(i any) string { return fmt.Sprintf("%s:", i) },
	}
}

func levelTag(level string, noColor bool) string {
	tag, ok := levelTags[strings.ToLower(level)]
	if !ok {
		return "[" + strings.ToUpper(level) + "]"
	}
	if noColor {
		return "[" + tag.short + "]"
	}
	return tag.color + "[" + tag.short + "]\033[0m"
}
