package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/interpreter"
	"github.com/frobware/go-saiagent/interpreter/store/sqlite"
	"github.com/frobware/go-saiagent/lock"
)

// WarmbootCmd groups persisted warm boot state operations.
type WarmbootCmd struct {
	Dump    WarmbootDumpCmd    `cmd:"" help:"Print persisted warm boot state."`
	Clear   WarmbootClearCmd   `cmd:"" help:"Delete persisted warm boot state so the next boot is cold."`
	History WarmbootHistoryCmd `cmd:"" help:"List recorded boots."`
}

// openStateStore opens the state database for an offline command.
func (cli *CLI) openStateStore(ctx context.Context) (interpreter.StateStore, error) {
	logger, err := cli.Logger()
	if err != nil {
		return nil, err
	}
	path, err := cli.DBPath()
	if err != nil {
		return nil, err
	}
	return sqlite.New(ctx, path, logger)
}

// WarmbootDumpCmd prints the persisted document of one switch, or a
// summary of every persisted switch.
type WarmbootDumpCmd struct {
	Index *uint32 `name:"index" help:"Switch index to dump. Lists every persisted switch when unset."`
}

// Run executes the warmboot dump command.
func (c *WarmbootDumpCmd) Run(cli *CLI) error {
	ctx := context.Background()
	st, err := cli.openStateStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if c.Index == nil {
		summaries, err := st.ListWarmbootStates(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cli.Stdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tINSTANCE\tSAVED\tBYTES")
		for _, s := range summaries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", s.SwitchIndex, s.InstanceID, s.SavedAt.Format(time.RFC3339), s.Size)
		}
		return w.Flush()
	}

	doc, err := st.LoadWarmbootState(ctx, *c.Index)
	if errors.Is(err, saiagent.ErrNotFound) {
		return fmt.Errorf("no warm boot state for switch %d", *c.Index)
	}
	if err != nil {
		return err
	}
	raw, err := doc.Marshal()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = cli.Stdout().Write(buf.Bytes())
	return err
}

// WarmbootClearCmd deletes persisted state. It takes the agent lock so
// it cannot race a running agent.
type WarmbootClearCmd struct {
	Index uint32 `name:"index" help:"Switch index to clear." default:"0"`
}

// Run executes the warmboot clear command.
func (c *WarmbootClearCmd) Run(cli *CLI) error {
	ctx := context.Background()
	dirs, err := cli.RuntimeDirs()
	if err != nil {
		return err
	}
	if err := dirs.EnsureDirectories(); err != nil {
		return err
	}
	err = lock.TryRun(ctx, dirs.Lock(), func(ctx context.Context, _ lock.Holder) error {
		st, err := cli.openStateStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		return st.ClearWarmbootState(ctx, c.Index)
	})
	if errors.Is(err, lock.ErrHeld) {
		return fmt.Errorf("agent is running: %w", err)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cli.Stdout(), "cleared warm boot state for switch %d\n", c.Index)
	return err
}

// WarmbootHistoryCmd lists recorded boots, newest first.
type WarmbootHistoryCmd struct {
	Limit int `name:"limit" help:"Maximum boots to show (0 for all)." default:"20"`
	OutputFlags
}

// Run executes the warmboot history command.
func (c *WarmbootHistoryCmd) Run(cli *CLI) error {
	ctx := context.Background()
	st, err := cli.openStateStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	boots, err := st.ListBoots(ctx, c.Limit)
	if err != nil {
		return err
	}
	if c.JSON() {
		return cli.printJSON(boots)
	}
	w := tabwriter.NewWriter(cli.Stdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tINSTANCE\tTYPE\tSTARTED\tCOMPLETED\tUNCLAIMED")
	for _, b := range boots {
		completed := "-"
		if !b.CompletedAt.IsZero() {
			completed = b.CompletedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\n",
			b.SwitchIndex, b.InstanceID, b.BootType, b.StartedAt.Format(time.RFC3339), completed, b.Unclaimed)
	}
	return w.Flush()
}
