// Package lock keeps one agent in charge of a switch. A running agent
// holds an exclusive flock(2) on {runtime}/.lock and writes its pid
// into the file. Offline tools that rewrite persisted state, such as
// warmboot clear, take the same lock and report the holder's pid when
// they cannot.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// ErrHeld matches a HeldError with errors.Is.
var ErrHeld = errors.New("agent lock held by another process")

// HeldError reports the lock file and, when it could be read, the pid
// recorded by the process holding it.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s: held by pid %d", e.Path, e.PID)
	}
	return fmt.Sprintf("%s: %v", e.Path, ErrHeld)
}

func (e *HeldError) Is(target error) bool { return target == ErrHeld }

// Holder is proof that the agent lock is held. Only Run and TryRun
// hand one out.
type Holder interface {
	// Path is the lock file.
	Path() string
	// PID is the pid written into the lock file.
	PID() int

	held()
}

type holder struct {
	f   *os.File
	pid int
}

func (h *holder) Path() string { return h.f.Name() }
func (h *holder) PID() int     { return h.pid }
func (*holder) held()          {}

const (
	minRetry = 25 * time.Millisecond
	maxRetry = 500 * time.Millisecond
)

// Run waits for the lock, retrying with a doubling delay until it is
// free or ctx is done, runs fn, and releases it.
func Run(ctx context.Context, path string, fn func(context.Context, Holder) error) error {
	return run(ctx, path, true, fn)
}

// TryRun is Run without waiting. It returns a *HeldError when another
// process has the lock.
func TryRun(ctx context.Context, path string, fn func(context.Context, Holder) error) error {
	return run(ctx, path, false, fn)
}

func run(ctx context.Context, path string, wait bool, fn func(context.Context, Holder) error) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	if err := flock(ctx, f, wait); err != nil {
		return err
	}
	h := &holder{f: f, pid: os.Getpid()}
	if err := writePID(f, h.pid); err != nil {
		return err
	}
	return fn(ctx, h)
}

func flock(ctx context.Context, f *os.File, wait bool) error {
	delay := minRetry
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, unix.EWOULDBLOCK):
			return fmt.Errorf("flock %s: %w", f.Name(), err)
		case !wait:
			return &HeldError{Path: f.Name(), PID: readPID(f.Name())}
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = min(2*delay, maxRetry)
	}
}

func writePID(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// readPID returns the pid recorded in the lock file, or 0.
func readPID(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return pid
}
