package sai

import (
	"fmt"
	"slices"
)

// AttrID identifies an attribute within one object type.
type AttrID uint32

// Attribute is one typed attribute value. Values are one of bool,
// uint8, uint16, uint32, uint64, int32, string, ObjectID, ObjectList,
// U32List, MacAddress, netip.Addr or netip.Prefix.
type Attribute struct {
	ID    AttrID
	Value any
}

func (a Attribute) String() string {
	return fmt.Sprintf("%d=%v", a.ID, a.Value)
}

// AttributeList is an ordered list of attributes. Order is the order
// in which attributes are applied.
type AttributeList []Attribute

// Get returns the value of id.
func (l AttributeList) Get(id AttrID) (any, bool) {
	for _, a := range l {
		if a.ID == id {
			return a.Value, true
		}
	}
	return nil, false
}

// ObjectList is a list of object ids attribute value.
type ObjectList []ObjectID

// U32List is a list of uint32 attribute value.
type U32List []uint32

// MacAddress is a 48-bit Ethernet address attribute value.
type MacAddress [6]byte

// ValuesEqual compares two attribute values, including list values.
func ValuesEqual(a, b any) bool {
	switch av := a.(type) {
	case ObjectList:
		bv, ok := b.(ObjectList)
		return ok && slices.Equal(av, bv)
	case U32List:
		bv, ok := b.(U32List)
		return ok && slices.Equal(av, bv)
	case []uint32, []ObjectID:
		return false
	}
	switch b.(type) {
	case ObjectList, U32List, []uint32, []ObjectID:
		return false
	}
	return a == b
}

// IsNullValue reports whether v clears a reference: the null object
// or an empty object list.
func IsNullValue(v any) bool {
	switch v := v.(type) {
	case ObjectID:
		return v.IsNull()
	case ObjectList:
		return len(v) == 0
	}
	return false
}

// References returns the object ids an attribute value refers to.
func References(v any) []ObjectID {
	switch v := v.(type) {
	case ObjectID:
		if v.IsNull() {
			return nil
		}
		return []ObjectID{v}
	case ObjectList:
		return v
	}
	return nil
}

// Value reads attribute id from l as a T. A missing attribute yields
// the zero value. A value of a different type is an error.
func Value[T any](l AttributeList, id AttrID) (T, error) {
	var zero T
	v, ok := l.Get(id)
	if !ok {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("attribute %d: got %T, want %T", id, v, zero)
	}
	return t, nil
}

// Builder accumulates an attribute list.
type Builder struct {
	list AttributeList
}

// Add appends an attribute.
func (b *Builder) Add(id AttrID, v any) *Builder {
	b.list = append(b.list, Attribute{ID: id, Value: v})
	return b
}

// AddIf appends an attribute when cond holds.
func (b *Builder) AddIf(cond bool, id AttrID, v any) *Builder {
	if cond {
		b.Add(id, v)
	}
	return b
}

// List returns the accumulated attributes.
func (b *Builder) List() AttributeList { return b.list }
