// Package interpreter contains the interfaces of the agent's durable
// state. Implementations live under interpreter/store.
package interpreter

import (
	"context"
	"io"
	"time"

	"github.com/frobware/go-saiagent/warmboot"
)

// WarmbootSummary describes a saved warm boot document without
// decoding it.
type WarmbootSummary struct {
	SwitchIndex uint32
	InstanceID  string
	SavedAt     time.Time
	Size        int
}

// BootRecord is one agent start.
type BootRecord struct {
	SwitchIndex uint32
	InstanceID  string
	BootType    string
	StartedAt   time.Time
	// CompletedAt is zero until the boot completes.
	CompletedAt time.Time
	// Unclaimed is the number of warm boot handles that no manager
	// claimed once the boot completed. Zero on cold boot.
	Unclaimed int
}

// WarmbootWriter persists warm boot documents, one per switch.
type WarmbootWriter interface {
	SaveWarmbootState(ctx context.Context, switchIndex uint32, doc *warmboot.Document) error
	ClearWarmbootState(ctx context.Context, switchIndex uint32) error
}

// WarmbootReader reads warm boot documents. LoadWarmbootState
// returns an error matching saiagent.ErrNotFound when the switch has
// no saved document.
type WarmbootReader interface {
	LoadWarmbootState(ctx context.Context, switchIndex uint32) (*warmboot.Document, error)
	ListWarmbootStates(ctx context.Context) ([]WarmbootSummary, error)
}

// BootRecorder keeps the boot history.
type BootRecorder interface {
	RecordBoot(ctx context.Context, rec BootRecord) error
	CompleteBoot(ctx context.Context, instanceID string, unclaimed int) error
	ListBoots(ctx context.Context, limit int) ([]BootRecord, error)
}

// StateStore is the agent's durable state.
type StateStore interface {
	io.Closer
	WarmbootWriter
	WarmbootReader
	BootRecorder

	// RunInTransaction runs fn against a store bound to a single
	// transaction. A nil return commits; an error rolls back.
	RunInTransaction(ctx context.Context, fn func(StateStore) error) error
}
