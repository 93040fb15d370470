package indices

import (
	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/sai"
)

// ConcurrentIndices maps hardware port ids to software ids and VLANs.
// Writers hold the control path lock; readers hold nothing and may
// briefly observe an entry after its removal.
type ConcurrentIndices struct {
	portIDs    *Map[sai.ObjectID, saiagent.PortID]
	portSaiIDs *Map[saiagent.PortID, sai.ObjectID]
	vlanIDs    *Map[sai.ObjectID, saiagent.VlanID]
}

// New returns empty indices.
func New() *ConcurrentIndices {
	return &ConcurrentIndices{
		portIDs:    NewMap[sai.ObjectID, saiagent.PortID](func(k sai.ObjectID) uint64 { return HashUint64(uint64(k)) }),
		portSaiIDs: NewMap[saiagent.PortID, sai.ObjectID](func(k saiagent.PortID) uint64 { return HashUint64(uint64(k)) }),
		vlanIDs:    NewMap[sai.ObjectID, saiagent.VlanID](func(k sai.ObjectID) uint64 { return HashUint64(uint64(k)) }),
	}
}

// AddPort records a port and its ingress VLAN.
func (c *ConcurrentIndices) AddPort(hw sai.ObjectID, id saiagent.PortID, vlan saiagent.VlanID) {
	c.portIDs.Store(hw, id)
	c.portSaiIDs.Store(id, hw)
	c.vlanIDs.Store(hw, vlan)
}

// RemovePort forgets a port.
func (c *ConcurrentIndices) RemovePort(hw sai.ObjectID, id saiagent.PortID) {
	c.vlanIDs.Delete(hw)
	c.portSaiIDs.Delete(id)
	c.portIDs.Delete(hw)
}

// PortID returns the software id of a hardware port.
func (c *ConcurrentIndices) PortID(hw sai.ObjectID) (saiagent.PortID, bool) {
	return c.portIDs.Load(hw)
}

// PortSaiID returns the hardware id of a software port.
func (c *ConcurrentIndices) PortSaiID(id saiagent.PortID) (sai.ObjectID, bool) {
	return c.portSaiIDs.Load(id)
}

// VlanID returns the ingress VLAN of a hardware port.
func (c *ConcurrentIndices) VlanID(hw sai.ObjectID) (saiagent.VlanID, bool) {
	return c.vlanIDs.Load(hw)
}

// Len returns the number of indexed ports.
func (c *ConcurrentIndices) Len() int { return c.portIDs.Len() }
