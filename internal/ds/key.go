package ds

import (
	"fmt"
)

// Key identifies an entity of a kind by either an integer ID or a string
// name. A key with neither ID is incomplete and will be completed by Put.
type Key struct {
	Kind string
	ID   int64
	Name string
}

// NewKey returns a key for the given kind and integer ID.
func NewKey(kind string, id int64) Key {
	return Key{Kind: kind, ID: id}
}

// NewNameKey returns a key for the given kind and string name.
func NewNameKey(kind, name string) Key {
	return Key{Kind: kind, Name: name}
}

// NewIncompleteKey returns a key of the given kind with no ID assigned yet.
func NewIncompleteKey(kind string) Key {
	return Key{Kind: kind}
}

// Incomplete reports whether the key still needs an ID assigned.
func (k Key) Incomplete() bool {
	return k.ID == 0 && k.Name == ""
}

// Equal reports whether two keys identify the same entity.
func (k Key) Equal(o Key) bool {
	return k.Kind == o.Kind && k.ID == o.ID && k.Name == o.Name
}

func (k Key) String() string {
	if k.Name != "" {
		return fmt.Sprintf("[%s %q]", k.Kind, k.Name)
	}
	return fmt.Sprintf("[%s %d]", k.Kind, k.ID)
}

// Validate checks that the key can be stored: a kind is required and the
// two ID forms are mutually exclusive.
func (k Key) Validate() error {
	if k.Kind == "" {
		return fmt.Errorf("%w: key has no kind", ErrInvalid)
	}
	if k.ID != 0 && k.Name != "" {
		return fmt.Errorf("%w: key %v has both an ID and a name", ErrInvalid, k)
	}
	if k.ID < 0 {
		return fmt.Errorf("%w: key %v has a negative ID", ErrInvalid, k)
	}
	return nil
}
