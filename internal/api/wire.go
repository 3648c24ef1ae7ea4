package api

import (
	"encoding/json"
	"fmt"

	"github.com/dslite-io/dslite/internal/ds"
)

// wireKey is the JSON shape of an entity key. Exactly one of ID and Name is
// set for complete keys; both are zero for incomplete ones.
type wireKey struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

func (k wireKey) key() ds.Key {
	return ds.Key{Kind: k.Kind, ID: k.ID, Name: k.Name}
}

func toWireKey(k ds.Key) wireKey {
	return wireKey{Kind: k.Kind, ID: k.ID, Name: k.Name}
}

func toKeys(wks []wireKey) []ds.Key {
	keys := make([]ds.Key, len(wks))
	for i, wk := range wks {
		keys[i] = wk.key()
	}
	return keys
}

func toWireKeys(keys []ds.Key) []wireKey {
	wks := make([]wireKey, len(keys))
	for i, k := range keys {
		wks[i] = toWireKey(k)
	}
	return wks
}

// wireEntity pairs a key with its properties. PropertyList carries its own
// typed JSON encoding.
type wireEntity struct {
	Key        wireKey         `json:"key"`
	Properties ds.PropertyList `json:"properties"`
}

// wireFilter is a typed query predicate. Value is decoded according to Type
// using the property value encoding; both are ignored for the exists
// operator.
type wireFilter struct {
	Property string          `json:"property"`
	Op       string          `json:"op"`
	Type     string          `json:"type,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

type wireOrder struct {
	Property  string `json:"property"`
	Direction string `json:"direction,omitempty"`
}

// toQuery converts the wire form into a ds.Query.
func toQuery(req queryRequest) (ds.Query, error) {
	q := ds.Query{
		Kind:     req.Kind,
		Offset:   req.Offset,
		Limit:    req.Limit,
		KeysOnly: req.KeysOnly,
	}

	for _, f := range req.Filters {
		filter := ds.Filter{Name: f.Property, Op: ds.FilterOp(f.Op)}
		if filter.Op != ds.ExistsOp {
			if f.Type == "" {
				return ds.Query{}, fmt.Errorf("filter on %s: value type required", f.Property)
			}
			v, err := ds.DecodeValue(f.Type, f.Value)
			if err != nil {
				return ds.Query{}, fmt.Errorf("filter on %s: %w", f.Property, err)
			}
			filter.Value = v
		}
		q.Filters = append(q.Filters, filter)
	}

	for _, o := range req.Orders {
		dir := ds.AscDir
		if o.Direction != "" {
			dir = ds.OrderDir(o.Direction)
		}
		q.Orders = append(q.Orders, ds.Order{Name: o.Property, Dir: dir})
	}
	return q, nil
}
