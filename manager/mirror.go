package manager

import (
	"context"
	"fmt"
	"log/slog"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/sai"
	"github.com/frobware/go-saiagent/store"
)

// erspanGREProtocol is the GRE protocol type of ERSPAN type II.
const erspanGREProtocol = 0x88be

// MirrorHandle is one mirror session.
type MirrorHandle struct {
	Mirror saiagent.Mirror

	session store.Ref[store.MirrorKey, store.MirrorAttrs]
}

// ID returns the session's hardware id.
func (h *MirrorHandle) ID() sai.ObjectID { return h.session.Value().ID() }

// MirrorManager programs mirror sessions. Ports reference sessions by
// name; the port manager resolves the names.
type MirrorManager struct {
	t       *ManagerTable
	logger  *slog.Logger
	handles map[string]*MirrorHandle
}

func (m *MirrorManager) sessionAttrs(mr saiagent.Mirror) (store.MirrorKey, store.MirrorAttrs, error) {
	port, err := m.t.Ports.portObjectID(mr.Port)
	if err != nil {
		return store.MirrorKey{}, store.MirrorAttrs{}, err
	}
	attrs := store.MirrorAttrs{Type: sai.MirrorSessionTypeLocal, MonitorPort: port}
	if mr.Type == saiagent.MirrorERSPAN {
		attrs = store.MirrorAttrs{
			Type:        sai.MirrorSessionTypeEnhancedRemote,
			MonitorPort: port,
			SrcIP:       mr.SrcIP,
			DstIP:       mr.DstIP,
			SrcMAC:      sai.MacAddress(mr.SrcMAC),
			DstMAC:      sai.MacAddress(mr.DstMAC),
			TOS:         mr.TOS,
			TTL:         mr.TTL,
			GREProtocol: erspanGREProtocol,
		}
	}
	key := store.MirrorKey{Type: attrs.Type, MonitorPort: port, SrcIP: attrs.SrcIP, DstIP: attrs.DstIP}
	return key, attrs, nil
}

// AddMirror programs a session and points the ports that name it at
// the session.
func (m *MirrorManager) AddMirror(ctx context.Context, mr saiagent.Mirror) error {
	if _, ok := m.handles[mr.Name]; ok {
		return saiagent.AlreadyExistsError{Kind: "mirror", Key: mr.Name}
	}
	key, attrs, err := m.sessionAttrs(mr)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", mr.Name, err)
	}
	session, err := m.t.store.Mirrors.SetObject(ctx, key, attrs)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", mr.Name, err)
	}
	m.handles[mr.Name] = &MirrorHandle{Mirror: mr, session: session}
	m.logger.DebugContext(ctx, "added mirror", "mirror", mr.Name, "type", mr.Type, "id", session.Value().ID())
	return m.t.Ports.refreshMirrors(ctx, mr.Name)
}

// ChangeMirror updates a session in place, or replaces it when its
// destination changes.
func (m *MirrorManager) ChangeMirror(ctx context.Context, old, new saiagent.Mirror) error {
	h, ok := m.handles[new.Name]
	if !ok {
		return saiagent.NotFoundError{Kind: "mirror", Key: new.Name}
	}
	if h.Mirror == new {
		return nil
	}
	key, attrs, err := m.sessionAttrs(new)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", new.Name, err)
	}
	if key != h.session.Key() {
		if err := m.RemoveMirror(ctx, h.Mirror); err != nil {
			return err
		}
		return m.AddMirror(ctx, new)
	}
	if err := h.session.Value().SetAttributes(ctx, attrs); err != nil {
		return fmt.Errorf("mirror %s: %w", new.Name, err)
	}
	h.Mirror = new
	return nil
}

// RemoveMirror clears every port reference to a session and then
// removes it. The handle survives a failure.
func (m *MirrorManager) RemoveMirror(ctx context.Context, mr saiagent.Mirror) error {
	h, ok := m.handles[mr.Name]
	if !ok {
		return saiagent.NotFoundError{Kind: "mirror", Key: mr.Name}
	}
	// Ports stop resolving the session once its handle is gone.
	delete(m.handles, mr.Name)
	if err := m.t.Ports.refreshMirrors(ctx, mr.Name); err != nil {
		m.handles[mr.Name] = h
		return fmt.Errorf("mirror %s: %w", mr.Name, err)
	}
	if err := h.session.Release(ctx); err != nil {
		m.handles[mr.Name] = h
		return fmt.Errorf("mirror %s: %w", mr.Name, err)
	}
	return nil
}

func (m *MirrorManager) sessionID(name string) (sai.ObjectID, bool) {
	h, ok := m.handles[name]
	if !ok {
		return sai.NullObjectID, false
	}
	return h.ID(), true
}

func (m *MirrorManager) usesPort(port saiagent.PortID) bool {
	for _, h := range m.handles {
		if h.Mirror.Port == port {
			return true
		}
	}
	return false
}

// GetMirrorHandle returns the handle of a mirror session.
func (m *MirrorManager) GetMirrorHandle(name string) (*MirrorHandle, error) {
	h, ok := m.handles[name]
	if !ok {
		return nil, saiagent.NotFoundError{Kind: "mirror", Key: name}
	}
	return h, nil
}

// ListManagedObjects describes every mirror session.
func (m *MirrorManager) ListManagedObjects() []ManagedObject {
	out := make([]ManagedObject, 0, len(m.handles))
	for _, name := range sortedKeys(m.handles) {
		h := m.handles[name]
		detail := fmt.Sprintf("type=%s port=%d", h.Mirror.Type, h.Mirror.Port)
		if h.Mirror.Type == saiagent.MirrorERSPAN {
			detail += fmt.Sprintf(" src=%s dst=%s", h.Mirror.SrcIP, h.Mirror.DstIP)
		}
		out = append(out, ManagedObject{Manager: "mirror", Key: name, AdapterKey: h.ID().String(), Detail: detail})
	}
	return out
}
