package ds

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Wire type names used by the JSON encoding of property values.
const (
	TypeInt64  = "int64"
	TypeString = "string"
	TypeBool   = "boolean"
	TypeDouble = "double"
	TypeBlob   = "blob"
	TypeTime   = "time"
)

type wireProperty struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Value   json.RawMessage `json:"value"`
	NoIndex bool            `json:"noindex,omitempty"`
}

// EncodeValue renders a property value as its wire type name and JSON value.
func EncodeValue(v interface{}) (string, json.RawMessage, error) {
	var (
		typ string
		val interface{}
	)
	switch t := v.(type) {
	case int64:
		typ, val = TypeInt64, t
	case string:
		typ, val = TypeString, t
	case bool:
		typ, val = TypeBool, t
	case float64:
		typ, val = TypeDouble, t
	case []byte:
		typ, val = TypeBlob, base64.StdEncoding.EncodeToString(t)
	case time.Time:
		typ, val = TypeTime, t.UTC().Format(time.RFC3339Nano)
	default:
		return "", nil, fmt.Errorf("dslite: unsupported property value type %T", v)
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return "", nil, err
	}
	return typ, raw, nil
}

// DecodeValue parses a wire-typed JSON value back into a property value.
func DecodeValue(typ string, raw json.RawMessage) (interface{}, error) {
	switch typ {
	case TypeInt64:
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeString:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeBool:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeDouble:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeBlob:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(s)
	case TypeTime:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	default:
		return nil, fmt.Errorf("%w: unknown property type %q", ErrInvalid, typ)
	}
}

// MarshalJSON encodes the property list with explicit value types so that
// int64 and double survive the round trip.
func (pl PropertyList) MarshalJSON() ([]byte, error) {
	wire := make([]wireProperty, 0, len(pl))
	for _, p := range pl {
		typ, raw, err := EncodeValue(p.Value)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", p.Name, err)
		}
		wire = append(wire, wireProperty{
			Name:    p.Name,
			Type:    typ,
			Value:   raw,
			NoIndex: p.NoIndex,
		})
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the typed wire form produced by MarshalJSON.
func (pl *PropertyList) UnmarshalJSON(data []byte) error {
	var wire []wireProperty
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := make(PropertyList, 0, len(wire))
	for _, wp := range wire {
		v, err := DecodeValue(wp.Type, wp.Value)
		if err != nil {
			return fmt.Errorf("property %s: %w", wp.Name, err)
		}
		out = append(out, Property{Name: wp.Name, Value: v, NoIndex: wp.NoIndex})
	}
	*pl = out
	return nil
}
