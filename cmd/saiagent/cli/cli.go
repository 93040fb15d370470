// Package cli implements the saiagent command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-saiagent/config"
	"github.com/frobware/go-saiagent/logging"
)

// CLI is the root command structure for saiagent.
type CLI struct {
	Config     string `name:"config" help:"Config file path." default:"${default_config_path}"`
	Log        string `name:"log" help:"Log spec (e.g., 'info,manager.route=debug')." env:"SAIAGENT_LOG"`
	RuntimeDir string `name:"runtime-dir" help:"Runtime directory root." default:"${default_runtime_dir}"`
	DB         string `name:"db" help:"State database path. Defaults to <runtime-dir>/db/state.db."`
	Remote     string `name:"remote" short:"r" help:"Agent endpoint for diag commands (socket path or host:port). Defaults to the runtime socket."`

	Serve    ServeCmd    `cmd:"" help:"Run the agent."`
	State    StateCmd    `cmd:"" help:"Intended state file operations."`
	Warmboot WarmbootCmd `cmd:"" help:"Inspect or clear persisted warm boot state."`
	Diag     DiagCmd     `cmd:"" help:"Query a running agent."`

	out io.Writer `kong:"-"`
}

// KongOptions returns the Kong configuration options for the CLI.
func KongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("saiagent"),
		kong.Description("Switch agent that reconciles intended state with SAI hardware objects."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"default_config_path": config.DefaultConfigPath,
			"default_runtime_dir": config.DefaultRuntimeDir,
		},
	}
}

// Stdout returns where command output goes.
func (c *CLI) Stdout() io.Writer {
	if c.out != nil {
		return c.out
	}
	return os.Stdout
}

// LoadConfig loads the configuration from the config file path.
func (c *CLI) LoadConfig() (config.Config, error) {
	return config.Load(c.Config)
}

// RuntimeDirs returns the runtime directories rooted at --runtime-dir.
func (c *CLI) RuntimeDirs() (config.RuntimeDirs, error) {
	return config.NewRuntimeDirs(c.RuntimeDir)
}

// DBPath returns the state database path.
func (c *CLI) DBPath() (string, error) {
	if c.DB != "" {
		return c.DB, nil
	}
	dirs, err := c.RuntimeDirs()
	if err != nil {
		return "", err
	}
	return dirs.DBPath(), nil
}

// RemoteAddress returns the agent endpoint for diag commands.
func (c *CLI) RemoteAddress(cfg config.Config) (string, error) {
	switch {
	case c.Remote != "":
		return c.Remote, nil
	case cfg.Server.Socket != "":
		return cfg.Server.Socket, nil
	}
	dirs, err := c.RuntimeDirs()
	if err != nil {
		return "", err
	}
	return dirs.SocketPath(), nil
}

// Logger creates a logger for CLI commands.
// CLI commands default to WARN level for quieter output.
// Use LoggerFromConfig for long-running services like serve.
func (c *CLI) Logger() (*slog.Logger, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}

	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	// CLI commands default to warn unless --log is specified
	spec := c.Log
	if spec == "" {
		spec = "warn"
	}

	return logging.New(logging.Options{
		CLISpec:    spec,
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     os.Stderr,
	})
}

// LoggerFromConfig creates a logger using config file settings.
// Used by long-running services (serve) where INFO level is appropriate.
// Output goes to stdout for daemon/container log collection.
func (c *CLI) LoggerFromConfig(cfg config.Config) (*slog.Logger, error) {
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	return logging.New(logging.Options{
		CLISpec:    c.Log,
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     os.Stdout,
	})
}

// printJSON writes v as indented JSON.
func (c *CLI) printJSON(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	_, err = fmt.Fprintln(c.Stdout(), string(output))
	return err
}
