// Package warmboot defines the document persisted across a warm boot:
// the live adapter keys of every object type plus, for types whose
// host key cannot be rebuilt from hardware, a side table mapping
// adapter keys to host keys.
package warmboot

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/frobware/go-saiagent/sai"
)

// Side table names as they appear in the document. Next hop groups are
// written in both forms; readers prefer the one with the mode.
const (
	AdapterKey2AdapterHostKey         = "adapterKey2AdapterHostKey"
	AdapterKey2AdapterHostKeyWithMode = "adapterKey2AdapterHostKeyWithMode"
)

// HostKeyTable maps a serialised adapter key (its String form) to a
// JSON host key.
type HostKeyTable map[string]json.RawMessage

// Document is the persisted warm boot state.
type Document struct {
	SwitchID         sai.ObjectID                        `json:"switchId"`
	InstanceID       string                              `json:"instanceId,omitempty"`
	AdapterKeys      map[sai.ObjectType][]json.RawMessage `json:"adapterKeys"`
	HostKeys         map[sai.ObjectType]HostKeyTable      `json:"adapterKey2AdapterHostKey,omitempty"`
	HostKeysWithMode map[sai.ObjectType]HostKeyTable      `json:"adapterKey2AdapterHostKeyWithMode,omitempty"`
}

// New returns an empty document for a switch.
func New(switchID sai.ObjectID, instanceID string) *Document {
	return &Document{
		SwitchID:    switchID,
		InstanceID:  instanceID,
		AdapterKeys: make(map[sai.ObjectType][]json.RawMessage),
	}
}

// Parse decodes a document.
func Parse(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse warm boot document: %w", err)
	}
	if d.AdapterKeys == nil {
		d.AdapterKeys = make(map[sai.ObjectType][]json.RawMessage)
	}
	return &d, nil
}

// Marshal encodes the document with stable indentation.
func (d *Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// SetKeys records the live adapter keys of type t.
func (d *Document) SetKeys(t sai.ObjectType, keys []sai.AdapterKey) error {
	raw := make([]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		b, err := sai.MarshalAdapterKey(k)
		if err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
		raw = append(raw, b)
	}
	d.AdapterKeys[t] = raw
	return nil
}

// HasKeys reports whether the document records a key list for type t.
// A recorded empty list is distinct from an absent one.
func (d *Document) HasKeys(t sai.ObjectType) bool {
	_, ok := d.AdapterKeys[t]
	return ok
}

// Keys decodes the adapter keys recorded for type t.
func (d *Document) Keys(t sai.ObjectType) ([]sai.AdapterKey, error) {
	raw := d.AdapterKeys[t]
	keys := make([]sai.AdapterKey, 0, len(raw))
	for _, r := range raw {
		k, err := sai.UnmarshalAdapterKey(t, r)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Types returns the object types present in the document in a stable
// order.
func (d *Document) Types() []sai.ObjectType {
	return slices.Sorted(maps.Keys(d.AdapterKeys))
}

// SetHostKeys records the legacy side table for type t.
func (d *Document) SetHostKeys(t sai.ObjectType, table HostKeyTable) {
	if d.HostKeys == nil {
		d.HostKeys = make(map[sai.ObjectType]HostKeyTable)
	}
	d.HostKeys[t] = table
}

// SetHostKeysWithMode records the newer side table for type t.
func (d *Document) SetHostKeysWithMode(t sai.ObjectType, table HostKeyTable) {
	if d.HostKeysWithMode == nil {
		d.HostKeysWithMode = make(map[sai.ObjectType]HostKeyTable)
	}
	d.HostKeysWithMode[t] = table
}

// HostKeysFor returns the side table for type t, preferring the table
// with mode when the document carries one.
func (d *Document) HostKeysFor(t sai.ObjectType) (HostKeyTable, bool) {
	if table, ok := d.HostKeysWithMode[t]; ok {
		return table, true
	}
	table, ok := d.HostKeys[t]
	return table, ok
}

// Len returns the number of adapter keys across all types.
func (d *Document) Len() int {
	n := 0
	for _, keys := range d.AdapterKeys {
		n += len(keys)
	}
	return n
}
