package ds

import (
	"fmt"
	"time"
)

// Property is a single named, typed entity value.
//
// Value must hold one of: int64, string, bool, float64, []byte, time.Time.
type Property struct {
	Name    string
	Value   interface{}
	NoIndex bool
}

// PropertyList is the schemaless representation of an entity's values.
type PropertyList []Property

// Get returns the property with the given name.
func (pl PropertyList) Get(name string) (Property, bool) {
	for _, p := range pl {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// ValidateValue checks that v is one of the supported property value types.
func ValidateValue(v interface{}) error {
	switch v.(type) {
	case int64, string, bool, float64, []byte, time.Time:
		return nil
	default:
		return fmt.Errorf("%w: unsupported property value type %T", ErrInvalid, v)
	}
}
