// Package hwswitch owns one hardware switch: the object store, the
// domain managers and the concurrent indices behind a single control
// path lock, plus the workers that drain hardware events.
//
// A Switch is created with New and brought up with Init, which boots
// cold or, when persisted state exists, warm. The owner then drives it
// with StateChanged and, after the first state of a warm boot,
// CompleteWarmBoot. ExitForWarmBoot persists the live objects and
// leaves hardware programmed for the next agent.
//
// PacketReceived and LinkStateChanged are called from adapter
// callback threads. They only read the concurrent indices and queue
// work for the workers started by Run.
package hwswitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/config"
	"github.com/frobware/go-saiagent/indices"
	"github.com/frobware/go-saiagent/interpreter"
	"github.com/frobware/go-saiagent/manager"
	"github.com/frobware/go-saiagent/sai"
	"github.com/frobware/go-saiagent/store"
	"github.com/frobware/go-saiagent/warmboot"
)

// BootType says how the switch came up.
type BootType string

const (
	BootTypeCold BootType = "cold"
	BootTypeWarm BootType = "warm"
)

// ErrNotInitialized is returned by operations that need Init first.
var ErrNotInitialized = errors.New("switch not initialized")

// ErrExited is returned by operations after ExitForWarmBoot.
var ErrExited = errors.New("switch exited for warm boot")

// Config describes the switch.
type Config struct {
	// Index keys the persisted warm boot state.
	Index uint32
	// WarmBoot allows a warm boot when persisted state exists.
	WarmBoot bool
	// MaxVariableWidthEcmp overrides the adapter's ECMP width.
	MaxVariableWidthEcmp uint32
	// PortGroupRecreate selects port group recreation for VCO changes.
	PortGroupRecreate bool
	// StatsInterval is the port counter collection period. Zero
	// disables collection by Run.
	StatsInterval time.Duration
	// PacketQueueDepth bounds the receive queue. Packets beyond it are
	// dropped and counted.
	PacketQueueDepth int
}

// ConfigFrom derives a switch config from the daemon configuration.
func ConfigFrom(c config.SwitchConfig) Config {
	return Config{
		Index:                c.Index,
		WarmBoot:             c.WarmBoot,
		MaxVariableWidthEcmp: c.MaxVariableWidthEcmp,
		PortGroupRecreate:    c.PortGroupRecreate(),
		StatsInterval:        c.StatsInterval.Duration,
	}
}

const defaultPacketQueueDepth = 1024

// Switch is one hardware switch.
type Switch struct {
	cfg    Config
	api    sai.API
	state  interpreter.StateStore
	logger *slog.Logger

	// mu is the control path lock. It serialises every mutation of
	// the store, the managers and the indices.
	mu         sync.Mutex
	store      *store.Store
	managers   *manager.ManagerTable
	current    saiagent.SwitchState
	bootType   BootType
	instanceID string
	warmPend   bool
	exited     bool

	indices *indices.ConcurrentIndices
	batchID atomic.Uint64

	events
}

// New returns a switch that programs api and persists through state.
func New(cfg Config, api sai.API, state interpreter.StateStore, logger *slog.Logger) (*Switch, error) {
	if api == nil {
		return nil, errors.New("hwswitch: nil adapter")
	}
	if state == nil {
		return nil, errors.New("hwswitch: nil state store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PacketQueueDepth <= 0 {
		cfg.PacketQueueDepth = defaultPacketQueueDepth
	}
	s := &Switch{
		cfg:     cfg,
		api:     api,
		state:   state,
		logger:  logger.With("component", "hwswitch", "switch_index", cfg.Index),
		current: saiagent.NewSwitchState(),
		indices: indices.New(),
	}
	s.events.init(cfg.PacketQueueDepth)
	return s, nil
}

// Init creates or reattaches the hardware switch and its managers. It
// boots warm when warm boot is enabled and persisted state exists for
// the switch index.
func (s *Switch) Init(ctx context.Context) (BootType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return "", errors.New("hwswitch: already initialized")
	}

	s.instanceID = uuid.NewString()
	bootType := BootTypeCold
	var doc *warmboot.Document
	if s.cfg.WarmBoot {
		d, err := s.state.LoadWarmbootState(ctx, s.cfg.Index)
		switch {
		case errors.Is(err, saiagent.ErrNotFound):
			s.logger.InfoContext(ctx, "no warm boot state, booting cold")
		case err != nil:
			return "", fmt.Errorf("load warm boot state: %w", err)
		default:
			doc = d
			bootType = BootTypeWarm
		}
	}

	attrs := sai.AttributeList{{ID: sai.SwitchAttrInitSwitch, Value: true}}
	if bootType == BootTypeWarm {
		attrs = append(attrs, sai.Attribute{ID: sai.SwitchAttrRestartWarm, Value: true})
	}
	switchID, err := s.api.Create(ctx, sai.ObjectTypeSwitch, sai.NullObjectID, attrs)
	if err != nil {
		return "", fmt.Errorf("create switch: %w", err)
	}
	if doc != nil && doc.SwitchID != switchID {
		return "", fmt.Errorf("warm boot state is for switch %s, adapter returned %s: %w",
			doc.SwitchID, switchID, saiagent.ErrConsistencyViolation)
	}

	st := store.New(s.api, switchID, s.logger)
	if doc != nil {
		if err := st.Reload(ctx, doc); err != nil {
			return "", fmt.Errorf("warm boot: %w", err)
		}
		s.logger.InfoContext(ctx, "reloaded warm boot state",
			"objects", doc.Len(), "previous_instance", doc.InstanceID)
	}

	platform, err := s.platform(ctx, switchID)
	if err != nil {
		return "", err
	}
	managers := manager.New(st, s.indices, platform, s.logger)
	if err := managers.Switch.LoadAdapterOwned(ctx); err != nil {
		return "", err
	}

	if err := s.state.RecordBoot(ctx, interpreter.BootRecord{
		SwitchIndex: s.cfg.Index,
		InstanceID:  s.instanceID,
		BootType:    string(bootType),
		StartedAt:   time.Now(),
	}); err != nil {
		return "", err
	}

	s.store = st
	s.managers = managers
	s.bootType = bootType
	s.warmPend = bootType == BootTypeWarm
	s.logger.InfoContext(ctx, "switch initialized",
		"boot_type", bootType, "switch_id", switchID, "instance_id", s.instanceID,
		"max_variable_width_ecmp", platform.MaxVariableWidthEcmp,
		"port_group_recreate", platform.PortGroupRecreate)
	return bootType, nil
}

// platform resolves the hardware properties the managers need. The
// configured ECMP width wins over the adapter's.
func (s *Switch) platform(ctx context.Context, switchID sai.ObjectID) (manager.Platform, error) {
	p := manager.Platform{
		MaxVariableWidthEcmp: uint64(s.cfg.MaxVariableWidthEcmp),
		PortGroupRecreate:    s.cfg.PortGroupRecreate,
	}
	if p.MaxVariableWidthEcmp != 0 || !s.api.IsAttributeSupported(sai.ObjectTypeSwitch, sai.SwitchAttrEcmpMaxWidth) {
		return p, nil
	}
	attrs, err := s.api.GetAttributes(ctx, sai.ObjectTypeSwitch, switchID, sai.SwitchAttrEcmpMaxWidth)
	if err != nil {
		return p, fmt.Errorf("read ecmp width: %w", err)
	}
	width, err := sai.Value[uint32](attrs, sai.SwitchAttrEcmpMaxWidth)
	if err != nil {
		return p, fmt.Errorf("read ecmp width: %w", err)
	}
	p.MaxVariableWidthEcmp = uint64(width)
	return p, nil
}

// ready reports why the switch cannot take control path calls. The
// caller holds s.mu.
func (s *Switch) ready() error {
	switch {
	case s.exited:
		return ErrExited
	case s.store == nil:
		return ErrNotInitialized
	}
	return nil
}

// BootType returns how the switch came up.
func (s *Switch) BootType() BootType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bootType
}

// InstanceID returns the id of this agent run.
func (s *Switch) InstanceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instanceID
}

// SwitchID returns the hardware switch id.
func (s *Switch) SwitchID() sai.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return sai.NullObjectID
	}
	return s.store.SwitchID()
}

// Indices returns the lock-free indices for readers off the control
// path.
func (s *Switch) Indices() *indices.ConcurrentIndices { return s.indices }

// With runs fn under the control path lock with the managers. fn must
// not retain the table.
func (s *Switch) With(fn func(*manager.ManagerTable) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	return fn(s.managers)
}

// ObjectCounts returns the number of live objects per type.
func (s *Switch) ObjectCounts() map[sai.ObjectType]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	return s.store.Counts()
}

// State returns a copy of the last state applied in full.
func (s *Switch) State() saiagent.SwitchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}
