package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	if os.Getenv("SAIAGENT_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUndoStackRunsNewestFirst(t *testing.T) {
	var order []string
	var undo undoStack
	for _, desc := range []string{"reattach port 1", "re-add port 1", "remove new port 1"} {
		undo.push(desc, func(context.Context) error {
			order = append(order, desc)
			return nil
		})
	}
	require.NoError(t, undo.rollback(context.Background(), testLogger()))
	assert.Equal(t, []string{"remove new port 1", "re-add port 1", "reattach port 1"}, order)
}

func TestUndoStackKeepsGoingPastFailures(t *testing.T) {
	errA := errors.New("table full")
	errB := errors.New("object in use")
	ran := 0
	var undo undoStack
	undo.push("re-add port 1", func(context.Context) error { ran++; return errA })
	undo.push("remove new port 1", func(context.Context) error { ran++; return nil })
	undo.push("re-add port 2", func(context.Context) error { ran++; return errB })

	err := undo.rollback(context.Background(), testLogger())
	assert.Equal(t, 3, ran)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.ErrorContains(t, err, "rollback re-add port 2")
}

func TestUndoStackIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var undo undoStack
	undo.push("re-add port 1", func(ctx context.Context) error { return ctx.Err() })
	assert.NoError(t, undo.rollback(ctx, testLogger()))
}

func TestUndoStackEmptyIsNoop(t *testing.T) {
	var undo undoStack
	assert.NoError(t, undo.rollback(context.Background(), testLogger()))
}
