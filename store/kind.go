package store

import (
	"encoding/json"
	"fmt"

	"github.com/frobware/go-saiagent/sai"
)

// Kind describes one object type to the generic store: how typed
// attributes map to adapter attributes and how an object's host key is
// recovered after a warm boot. H is the host key, A the attributes.
type Kind[H comparable, A any] struct {
	Type sai.ObjectType

	// Encode returns the attribute list for a, in the order
	// attributes are applied.
	Encode func(a A) sai.AttributeList

	// Decode rebuilds attributes read back from hardware.
	Decode func(l sai.AttributeList) (A, error)

	// AttrIDs are the attributes read during reload.
	AttrIDs []sai.AttrID

	// CreateOnly attributes cannot be changed in place.
	CreateOnly []sai.AttrID

	// Defaults are written when an optional attribute is dropped
	// from the desired list.
	Defaults map[sai.AttrID]any

	// EntryKey builds the adapter key of entry types. It is nil for
	// types addressed by object id.
	EntryKey func(switchID sai.ObjectID, h H) sai.AdapterKey

	// HostKey derives the host key from a reloaded object. It is nil
	// when the host key is not derivable and must come from the
	// persisted side table.
	HostKey func(key sai.AdapterKey, a A) (H, error)

	// MarshalHostKey and UnmarshalHostKey encode host keys for the
	// side table. Both default to encoding/json on H.
	MarshalHostKey   func(h H) (json.RawMessage, error)
	UnmarshalHostKey func(raw json.RawMessage) (H, error)

	// MarshalLegacyHostKey, when set, writes a second side table in
	// the older format alongside the current one.
	MarshalLegacyHostKey func(h H) (json.RawMessage, error)

	// Stats lists counters collected by UpdateStats.
	Stats []sai.StatID
}

func (k *Kind[H, A]) marshalHostKey(h H) (json.RawMessage, error) {
	if k.MarshalHostKey != nil {
		return k.MarshalHostKey(h)
	}
	return json.Marshal(h)
}

func (k *Kind[H, A]) unmarshalHostKey(raw json.RawMessage) (H, error) {
	if k.UnmarshalHostKey != nil {
		return k.UnmarshalHostKey(raw)
	}
	var h H
	if err := json.Unmarshal(raw, &h); err != nil {
		return h, fmt.Errorf("decode %s host key: %w", k.Type, err)
	}
	return h, nil
}

func (k *Kind[H, A]) isCreateOnly(id sai.AttrID) bool {
	for _, c := range k.CreateOnly {
		if c == id {
			return true
		}
	}
	return false
}
