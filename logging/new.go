package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvVar names the environment variable holding the log spec.
const EnvVar = "SAIAGENT_LOG"

// Format is the log output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat parses "text" or "json". Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %q", s)
	}
}

// Options configures New. Of the three specs the first non-empty one
// in the order CLISpec, EnvSpec, ConfigSpec wins.
type Options struct {
	EnvSpec    string
	CLISpec    string
	ConfigSpec string
	Format     Format
	// Output defaults to os.Stdout.
	Output io.Writer
}

func (o Options) spec() string {
	for _, s := range []string{o.CLISpec, o.EnvSpec, o.ConfigSpec} {
		if s != "" {
			return s
		}
	}
	return ""
}

// New builds a logger that filters by component, stamps apply batch
// ids, and prints trace records as TRACE. A spec that overrides an
// unknown component is accepted with a warning.
func New(opts Options) (*slog.Logger, error) {
	spec, err := ParseSpec(opts.spec())
	if err != nil {
		return nil, fmt.Errorf("invalid log spec: %w", err)
	}

	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	// The filtering handler decides; the inner handler passes all.
	handlerOpts := &slog.HandlerOptions{
		Level:       LevelTrace,
		ReplaceAttr: replaceLevel,
	}
	var inner slog.Handler
	switch opts.Format {
	case FormatJSON:
		inner = slog.NewJSONHandler(output, handlerOpts)
	default:
		inner = slog.NewTextHandler(output, handlerOpts)
	}

	logger := slog.New(NewFilteringHandler(WithBatchIDHandler(inner), &spec))
	if unknown := spec.UnknownComponents(); len(unknown) > 0 {
		logger.Warn("log spec names unknown components", "components", unknown, "known", Components)
	}
	return logger, nil
}

// replaceLevel renders LevelTrace as TRACE instead of slog's DEBUG-4.
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace.ToSlog() {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}
