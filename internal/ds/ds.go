// Package ds defines the datastore API implemented by the SQLite backend
// and its decorators: keys, typed properties, queries and the Datastore
// service interface.
package ds

import (
	"context"
	"errors"
)

// ErrNoEntity is returned (wrapped in a MultiError) for keys that have no
// stored entity.
var ErrNoEntity = errors.New("dslite: no entity")

// ErrConcurrentTx is returned when a transaction is started inside a
// running transaction.
var ErrConcurrentTx = errors.New("dslite: already in transaction")

// ErrInvalid marks failures the caller can fix: bad keys, identifiers,
// values or operators. Backends wrap it so transports can classify them
// as client errors.
var ErrInvalid = errors.New("dslite: invalid argument")

// MultiError holds one error slot per key of a batch operation. Slots for
// keys that succeeded are nil.
type MultiError []error

func (e MultiError) Error() string {
	if len(e) == 1 && e[0] != nil {
		return e[0].Error()
	}
	return "dslite: multiple errors"
}

// NotFound reports whether the entity at index i was missing.
func (e MultiError) NotFound(i int) bool {
	if i < 0 || i >= len(e) {
		return false
	}
	return errors.Is(e[i], ErrNoEntity)
}

// Datastore is the service interface implemented by storage backends.
//
// Get, Put and Delete operate on batches; entities must be a slice with one
// element per key, each element a struct or struct pointer. Put returns the
// completed keys, assigning integer IDs to incomplete ones.
type Datastore interface {
	Get(ctx context.Context, keys []Key, entities interface{}) error
	Put(ctx context.Context, keys []Key, entities interface{}) ([]Key, error)
	Delete(ctx context.Context, keys []Key) error

	Run(ctx context.Context, q Query) (Iterator, error)

	RunInTransaction(ctx context.Context, f func(ctx context.Context, tx Datastore) error) error
}

// Iterator returns entities produced by a query. Next reports done=true
// once the result set is exhausted; entity may be nil for keys-only use.
type Iterator interface {
	Next(entity interface{}) (key Key, done bool, err error)
}
