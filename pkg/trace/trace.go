// Package trace is the level-gated structured logging façade every
// component in the agent logs through. It wraps zerolog the way the rest
// of this codebase expects: one child logger per component, one line per
// API entry/exit at the configured level.
package trace

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is a trace verbosity level, settable at runtime via TraceUpdate
// (pkg/rpcfront) or at startup via GPUAGENT_TRACE_LEVEL.
type Level string

const (
	Debug Level = "debug"
	Info  Level = "info"
	Warn  Level = "warn"
	Error Level = "error"
)

// Logger is the process-wide base logger. Init must be called once at
// startup before any component logs.
var Logger zerolog.Logger

var output io.Writer

// Config controls how Init sets up the base logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer // sink used instead of stdout; nil = stdout
}

// Init initializes the global logger. Safe to call exactly once at
// process startup.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(levelOf(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	output = out

	if cfg.JSONOutput {
		Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// Flush syncs the underlying sink, if it supports one (TraceFlush RPC).
// zerolog writes every line synchronously, so on a plain io.Writer sink
// there is nothing buffered to flush; this only matters for a sink like
// *os.File where the OS itself may still be holding dirty pages.
func Flush() error {
	if s, ok := output.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

func levelOf(l Level) zerolog.Level {
	switch l {
	case Debug:
		return zerolog.DebugLevel
	case Warn:
		return zerolog.WarnLevel
	case Error:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLevel changes the global trace level at runtime (TraceUpdate RPC).
func SetLevel(l Level) {
	zerolog.SetGlobalLevel(levelOf(l))
}

// CurrentLevel returns the active global trace level.
func CurrentLevel() Level {
	switch zerolog.GlobalLevel() {
	case zerolog.DebugLevel:
		return Debug
	case zerolog.WarnLevel:
		return Warn
	case zerolog.ErrorLevel:
		return Error
	default:
		return Info
	}
}

// WithComponent returns a child logger tagged with the given component
// name — one per C1-C10 worker/package (e.g. "bus", "eventmon").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithGPU returns a child logger tagged with a GPU key string.
func WithGPU(component, gpuKey string) zerolog.Logger {
	return Logger.With().Str("component", component).Str("gpu", gpuKey).Logger()
}

// API logs one line per API call: component, the API name, and its result.
func API(component, api string, err error) {
	ev := Logger.With().Str("component", component).Str("api", api).Logger()
	if err != nil {
		ev.Error().Err(err).Msg("api call failed")
		return
	}
	ev.Debug().Msg("api call ok")
}
