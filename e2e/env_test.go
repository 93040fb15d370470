//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/frobware/go-saiagent/client"
	"github.com/frobware/go-saiagent/config"
	"github.com/frobware/go-saiagent/logging"
	"github.com/frobware/go-saiagent/sai/fake"
	"github.com/frobware/go-saiagent/server"
)

// TestEnv is an isolated agent environment: runtime directories, a
// state file and a fake adapter that outlives each agent run, so that
// a second run can warm boot over the first run's hardware.
type TestEnv struct {
	T         *testing.T
	Dirs      config.RuntimeDirs
	StateFile string
	API       *fake.Adapter
	Metrics   string
	logger    *slog.Logger
}

// Agent is one running daemon.
type Agent struct {
	Client *client.Client
	cancel context.CancelFunc
	done   chan error
}

// NewTestEnv creates an environment under a short temp dir. Unix
// socket paths have a small length limit.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	base, err := os.MkdirTemp("", "saiagent-e2e-")
	require.NoError(t, err)
	t.Cleanup(func() {
		os.RemoveAll(base)
		os.RemoveAll(base + "-sock")
	})
	dirs, err := config.NewRuntimeDirs(base)
	require.NoError(t, err)

	// SAIAGENT_LOG=debug or SAIAGENT_LOG=info,manager.route=debug
	// turns logging on.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if spec := os.Getenv(logging.EnvVar); spec != "" {
		logger, err = logging.New(logging.Options{
			EnvSpec: spec,
			Format:  logging.FormatText,
			Output:  os.Stderr,
		})
		require.NoError(t, err, "invalid SAIAGENT_LOG spec")
	}

	return &TestEnv{
		T:         t,
		Dirs:      dirs,
		StateFile: filepath.Join(base, "state.toml"),
		API:       fake.New(),
		Metrics:   freeAddress(t),
		logger:    logger,
	}
}

// freeAddress returns a loopback address nothing listens on.
func freeAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// WriteState replaces the state file. The write goes through a rename
// so the watcher never sees a partial file.
func (e *TestEnv) WriteState(state string) {
	e.T.Helper()
	tmp := e.StateFile + ".tmp"
	require.NoError(e.T, os.WriteFile(tmp, []byte(state), 0o644))
	require.NoError(e.T, os.Rename(tmp, e.StateFile))
}

// Start runs an agent and waits until its diagnostic service is healthy.
func (e *TestEnv) Start() *Agent {
	e.T.Helper()

	cfg := config.DefaultConfig()
	cfg.State.File = e.StateFile
	cfg.Server.Metrics = e.Metrics
	cfg.Switch.StatsInterval = config.Duration{Duration: 100 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{cancel: cancel, done: make(chan error, 1)}
	go func() {
		a.done <- server.Run(ctx, server.RunConfig{
			Dirs:   e.Dirs,
			Config: cfg,
			API:    e.API,
			Logger: e.logger,
		})
	}()

	c, err := client.Dial(e.Dirs.SocketPath())
	require.NoError(e.T, err)
	a.Client = c
	require.Eventually(e.T, func() bool {
		ok, err := c.Healthy(context.Background())
		return err == nil && ok
	}, 5*time.Second, 20*time.Millisecond, "agent never became healthy")

	e.T.Cleanup(func() { a.Stop(e.T) })
	return a
}

// Stop cancels the agent and waits for Run to return nil. Stopping
// twice is harmless.
func (a *Agent) Stop(t *testing.T) {
	t.Helper()
	if a.cancel == nil {
		return
	}
	a.cancel()
	a.cancel = nil
	a.Client.Close()
	select {
	case err := <-a.done:
		require.NoError(t, err, "agent exited with an error")
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not stop")
	}
}

// Status returns the agent status.
func (a *Agent) Status(t *testing.T) map[string]any {
	t.Helper()
	st, err := a.Client.Status(context.Background())
	require.NoError(t, err)
	return st
}

// ObjectCount returns the number of store objects of one type as
// reported by the agent, zero when the type is absent.
func (a *Agent) ObjectCount(t *testing.T, objectType string) int {
	t.Helper()
	n, err := a.objectCount(objectType)
	require.NoError(t, err)
	return n
}

func (a *Agent) objectCount(objectType string) (int, error) {
	st, err := a.Client.Status(context.Background())
	if err != nil {
		return 0, err
	}
	objects, _ := st["objects"].(map[string]any)
	n, _ := objects[objectType].(float64)
	return int(n), nil
}

// WaitForObjects waits until the agent reports n objects of a type.
func (a *Agent) WaitForObjects(t *testing.T, objectType string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := a.objectCount(objectType)
		return err == nil && got == n
	}, 5*time.Second, 20*time.Millisecond, "want %d %s objects", n, objectType)
}

// Scrape returns the agent's Prometheus metrics text.
func (e *TestEnv) Scrape() string {
	e.T.Helper()
	defer http.DefaultClient.CloseIdleConnections()
	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", e.Metrics))
	require.NoError(e.T, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(e.T, err)
	return string(body)
}
