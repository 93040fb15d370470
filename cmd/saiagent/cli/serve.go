package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/frobware/go-saiagent/lock"
	"github.com/frobware/go-saiagent/sai/fake"
	"github.com/frobware/go-saiagent/server"
)

// ServeCmd runs the agent.
type ServeCmd struct {
	Fake      bool   `name:"fake" help:"Program an in-memory fake adapter instead of hardware."`
	StateFile string `name:"state-file" help:"Intended state file. Overrides [state] file."`
}

// errNoAdapter is returned by serve when no hardware adapter is linked in.
var errNoAdapter = errors.New("this build has no hardware adapter; run with --fake")

// Run executes the serve command.
func (c *ServeCmd) Run(cli *CLI) error {
	appConfig, err := cli.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.StateFile != "" {
		appConfig.State.File = c.StateFile
	}

	logger, err := cli.LoggerFromConfig(appConfig)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	if !c.Fake {
		return errNoAdapter
	}

	dirs, err := cli.RuntimeDirs()
	if err != nil {
		return err
	}
	if err := dirs.EnsureDirectories(); err != nil {
		return err
	}

	// Create context that cancels on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return lock.TryRun(ctx, dirs.Lock(), func(ctx context.Context, held lock.Holder) error {
		logger.InfoContext(ctx, "agent lock held", "path", held.Path(), "pid", held.PID())
		return server.Run(ctx, server.RunConfig{
			Dirs:   dirs,
			DBPath: cli.DB,
			Config: appConfig,
			API:    fake.New(),
			Logger: logger,
		})
	})
}
