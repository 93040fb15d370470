package sai

import "context"

// API is the synchronous hardware adapter. Every call may block.
// Implementations must be safe for concurrent use.
type API interface {
	// Create creates an object addressed by an ObjectID. Switch
	// objects are created with a null switch id.
	Create(ctx context.Context, t ObjectType, switchID ObjectID, attrs AttributeList) (ObjectID, error)

	// CreateEntry creates an entry object (route, neighbor) at key.
	CreateEntry(ctx context.Context, t ObjectType, key AdapterKey, attrs AttributeList) error

	// Remove removes an object.
	Remove(ctx context.Context, t ObjectType, key AdapterKey) error

	// GetAttributes reads attributes. With no ids every attribute
	// currently set is returned.
	GetAttributes(ctx context.Context, t ObjectType, key AdapterKey, ids ...AttrID) (AttributeList, error)

	// SetAttribute sets one attribute.
	SetAttribute(ctx context.Context, t ObjectType, key AdapterKey, attr Attribute) error

	// ObjectKeys enumerates every live object of type t on a switch.
	ObjectKeys(ctx context.Context, t ObjectType, switchID ObjectID) ([]AdapterKey, error)

	// GetStats reads counters.
	GetStats(ctx context.Context, t ObjectType, key AdapterKey, ids ...StatID) ([]uint64, error)

	// IsAttributeSupported is the capability query for attributes
	// that not every hardware family provides.
	IsAttributeSupported(t ObjectType, id AttrID) bool
}
