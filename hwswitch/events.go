package hwswitch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/sai"
)

// Packet is a frame received on a front panel port.
type Packet struct {
	Port  saiagent.PortID
	Vlan  saiagent.VlanID
	Frame []byte
}

// PacketHandler consumes received packets on the packet worker.
type PacketHandler func(ctx context.Context, p Packet)

// LinkHandler observes link state changes after the switch has
// applied them.
type LinkHandler func(ctx context.Context, port saiagent.PortID, up bool)

// EventStats counts hardware events.
type EventStats struct {
	PacketsReceived uint64
	PacketsDropped  uint64
	PacketsUnknown  uint64
	LinkEvents      uint64
}

// events is the callback side of a Switch.
type events struct {
	packets chan Packet

	// linkMu guards links, which coalesces link events per port so
	// that only the latest state of each port is applied.
	linkMu     sync.Mutex
	links      map[sai.ObjectID]bool
	linkSignal chan struct{}

	handlersMu     sync.RWMutex
	packetHandlers []PacketHandler
	linkHandlers   []LinkHandler

	received atomic.Uint64
	dropped  atomic.Uint64
	unknown  atomic.Uint64
	linkSeen atomic.Uint64
	running  atomic.Bool
}

func (e *events) init(depth int) {
	e.packets = make(chan Packet, depth)
	e.links = make(map[sai.ObjectID]bool)
	e.linkSignal = make(chan struct{}, 1)
}

// OnPacket registers a packet handler.
func (s *Switch) OnPacket(h PacketHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.packetHandlers = append(s.packetHandlers, h)
}

// OnLinkState registers a link state handler.
func (s *Switch) OnLinkState(h LinkHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.linkHandlers = append(s.linkHandlers, h)
}

// PacketReceived is the adapter's receive callback. It never blocks:
// packets on unknown ports are discarded and a full queue drops the
// packet. frame is copied.
func (s *Switch) PacketReceived(hwPort sai.ObjectID, frame []byte) {
	s.received.Add(1)
	port, ok := s.indices.PortID(hwPort)
	if !ok {
		s.unknown.Add(1)
		return
	}
	vlan, _ := s.indices.VlanID(hwPort)
	p := Packet{Port: port, Vlan: vlan, Frame: append([]byte(nil), frame...)}
	select {
	case s.packets <- p:
	default:
		s.dropped.Add(1)
	}
}

// LinkStateChanged is the adapter's port state callback. It records
// the state and wakes the link worker.
func (s *Switch) LinkStateChanged(hwPort sai.ObjectID, up bool) {
	s.linkSeen.Add(1)
	s.linkMu.Lock()
	s.links[hwPort] = up
	s.linkMu.Unlock()
	select {
	case s.linkSignal <- struct{}{}:
	default:
	}
}

// EventStats returns the event counters.
func (s *Switch) EventStats() EventStats {
	return EventStats{
		PacketsReceived: s.received.Load(),
		PacketsDropped:  s.dropped.Load(),
		PacketsUnknown:  s.unknown.Load(),
		LinkEvents:      s.linkSeen.Load(),
	}
}

// Run drains hardware events and collects port counters until ctx is
// done. It returns nil on cancellation.
func (s *Switch) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("hwswitch: already running")
	}
	defer s.running.Store(false)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.packetWorker(ctx) })
	g.Go(func() error { return s.linkWorker(ctx) })
	if s.cfg.StatsInterval > 0 {
		g.Go(func() error { return s.statsWorker(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Switch) packetWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-s.packets:
			s.handlersMu.RLock()
			handlers := s.packetHandlers
			s.handlersMu.RUnlock()
			for _, h := range handlers {
				h(ctx, p)
			}
		}
	}
}

func (s *Switch) linkWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.linkSignal:
			s.linkMu.Lock()
			pending := s.links
			s.links = make(map[sai.ObjectID]bool)
			s.linkMu.Unlock()
			for hwPort, up := range pending {
				s.applyLinkState(ctx, hwPort, up)
			}
		}
	}
}

// applyLinkState records the port's state and unresolves or
// reprograms the neighbors behind it. Routes are not recomputed.
func (s *Switch) applyLinkState(ctx context.Context, hwPort sai.ObjectID, up bool) {
	port, ok := s.indices.PortID(hwPort)
	if !ok {
		s.logger.DebugContext(ctx, "link state for unknown port", "hw_port", hwPort, "up", up)
		return
	}

	s.mu.Lock()
	err := s.ready()
	if err == nil {
		err = s.managers.Ports.SetOperState(port, up)
	}
	if err == nil {
		if up {
			err = s.managers.Neighbors.HandleLinkUp(ctx, port)
		} else {
			err = s.managers.Neighbors.HandleLinkDown(ctx, port)
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.WarnContext(ctx, "link state change incomplete", "port", port, "up", up, "error", err)
	} else {
		s.logger.InfoContext(ctx, "link state changed", "port", port, "up", up)
	}

	s.handlersMu.RLock()
	handlers := s.linkHandlers
	s.handlersMu.RUnlock()
	for _, h := range handlers {
		h(ctx, port, up)
	}
}

func (s *Switch) statsWorker(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.UpdateStats(ctx); err != nil && !errors.Is(err, ErrNotInitialized) && !errors.Is(err, ErrExited) {
				return err
			}
		}
	}
}
