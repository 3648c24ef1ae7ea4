package sqliteds

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dslite-io/dslite/internal/ds"
)

func seedModels(t *testing.T, s *Store, models ...testModel) []ds.Key {
	t.Helper()
	keys := make([]ds.Key, len(models))
	for i := range keys {
		keys[i] = ds.NewIncompleteKey("TestModel")
	}
	completed, err := s.Put(context.Background(), keys, models)
	require.NoError(t, err)
	return completed
}

func collect(t *testing.T, it ds.Iterator) []testModel {
	t.Helper()
	var out []testModel
	for {
		var m testModel
		_, done, err := it.Next(&m)
		require.NoError(t, err)
		if done {
			return out
		}
		out = append(out, m)
	}
}

func TestSimpleQuery(t *testing.T) {
	s := newTestStore(t)
	seedModels(t, s, testModel{Text: "t1", Number: 13})

	it, err := s.Run(context.Background(), ds.Query{
		Kind: "TestModel",
		Filters: []ds.Filter{
			{Name: "text", Op: ds.EqualOp, Value: "t1"},
			{Name: "number", Op: ds.EqualOp, Value: int64(13)},
		},
		Orders: []ds.Order{{Name: "text", Dir: ds.DescDir}},
	})
	require.NoError(t, err)

	got := collect(t, it)
	require.Len(t, got, 1)
	require.Equal(t, "t1", got[0].Text)
	require.Equal(t, int64(13), got[0].Number)
}

func TestQueryOperators(t *testing.T) {
	s := newTestStore(t)
	seedModels(t, s,
		testModel{Number: 1}, testModel{Number: 2}, testModel{Number: 3},
		testModel{Number: 4}, testModel{Number: 5})

	tests := []struct {
		op   ds.FilterOp
		want int
	}{
		{ds.LessThanOp, 2},
		{ds.LessThanEqualOp, 3},
		{ds.EqualOp, 1},
		{ds.GreaterThanEqualOp, 3},
		{ds.GreaterThanOp, 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			it, err := s.Run(context.Background(), ds.Query{
				Kind:    "TestModel",
				Filters: []ds.Filter{{Name: "number", Op: tt.op, Value: int64(3)}},
			})
			require.NoError(t, err)
			require.Len(t, collect(t, it), tt.want)
		})
	}
}

func TestQueryOrderOffsetLimit(t *testing.T) {
	s := newTestStore(t)
	seedModels(t, s,
		testModel{Number: 2}, testModel{Number: 5}, testModel{Number: 1},
		testModel{Number: 4}, testModel{Number: 3})

	it, err := s.Run(context.Background(), ds.Query{
		Kind:   "TestModel",
		Orders: []ds.Order{{Name: "number", Dir: ds.DescDir}},
		Offset: 1,
		Limit:  2,
	})
	require.NoError(t, err)

	got := collect(t, it)
	require.Len(t, got, 2)
	require.Equal(t, int64(4), got[0].Number)
	require.Equal(t, int64(3), got[1].Number)
}

func TestQueryUnknownKind(t *testing.T) {
	s := newTestStore(t)

	it, err := s.Run(context.Background(), ds.Query{Kind: "Nothing"})
	require.NoError(t, err)
	require.Empty(t, collect(t, it))
}

func TestQueryUnknownPropertyFilter(t *testing.T) {
	s := newTestStore(t)
	seedModels(t, s, testModel{Number: 1})

	it, err := s.Run(context.Background(), ds.Query{
		Kind:    "TestModel",
		Filters: []ds.Filter{{Name: "missing", Op: ds.EqualOp, Value: "x"}},
	})
	require.NoError(t, err)
	require.Empty(t, collect(t, it))
}

func TestQueryExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	type withExtra struct {
		Number int64  `datastore:"number"`
		Extra  string `datastore:"extra"`
	}
	type plain struct {
		Number int64 `datastore:"number"`
	}

	_, err := s.Put(ctx, []ds.Key{ds.NewIncompleteKey("Mixed")}, []*withExtra{{Number: 1, Extra: "x"}})
	require.NoError(t, err)
	_, err = s.Put(ctx, []ds.Key{ds.NewIncompleteKey("Mixed")}, []*plain{{Number: 2}})
	require.NoError(t, err)

	it, err := s.Run(ctx, ds.Query{
		Kind:    "Mixed",
		Filters: []ds.Filter{{Name: "extra", Op: ds.ExistsOp}},
	})
	require.NoError(t, err)

	var got []withExtra
	for {
		var m withExtra
		_, done, err := it.Next(&m)
		require.NoError(t, err)
		if done {
			break
		}
		got = append(got, m)
	}
	require.Len(t, got, 1)
	require.Equal(t, int64(1), got[0].Number)
}

func TestQueryKeysOnly(t *testing.T) {
	s := newTestStore(t)
	keys := seedModels(t, s, testModel{Number: 1}, testModel{Number: 2})

	it, err := s.Run(context.Background(), ds.Query{Kind: "TestModel", KeysOnly: true})
	require.NoError(t, err)

	var got []ds.Key
	for {
		key, done, err := it.Next(nil)
		require.NoError(t, err)
		if done {
			break
		}
		got = append(got, key)
	}
	require.ElementsMatch(t, keys, got)
}

func TestQueryNameKeyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := ds.NewNameKey("TestModel", "custom")
	_, err := s.Put(ctx, []ds.Key{want}, []*testModel{{Number: 7}})
	require.NoError(t, err)

	it, err := s.Run(ctx, ds.Query{Kind: "TestModel"})
	require.NoError(t, err)
	key, done, err := it.Next(nil)
	require.NoError(t, err)
	require.False(t, done)
	require.True(t, want.Equal(key), "got key %v", key)
}

func TestCursorNext(t *testing.T) {
	s := newTestStore(t)
	seedModels(t, s,
		testModel{Number: 1}, testModel{Number: 2}, testModel{Number: 3})

	cursor, more, err := s.RunQuery(context.Background(), ds.Query{
		Kind:   "TestModel",
		Orders: []ds.Order{{Name: "number", Dir: ds.AscDir}},
	})
	require.NoError(t, err)
	require.True(t, more)

	batch, more, err := s.Next(cursor, 2)
	require.NoError(t, err)
	require.True(t, more)
	require.Len(t, batch, 2)
	num, ok := batch[0].Properties.Get("number")
	require.True(t, ok)
	require.Equal(t, int64(1), num.Value)

	batch, more, err = s.Next(cursor, 2)
	require.NoError(t, err)
	require.False(t, more)
	require.Len(t, batch, 1)

	// Exhausted cursors are released.
	_, _, err = s.Next(cursor, 1)
	require.ErrorIs(t, err, ErrUnknownCursor)
}

func TestNextUnknownCursor(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Next(99, 1)
	require.ErrorIs(t, err, ErrUnknownCursor)
}

func TestQueryUnsupportedOperator(t *testing.T) {
	s := newTestStore(t)
	seedModels(t, s, testModel{Number: 1})

	_, err := s.Run(context.Background(), ds.Query{
		Kind:    "TestModel",
		Filters: []ds.Filter{{Name: "number", Op: "!=", Value: int64(1)}},
	})
	require.Error(t, err)
}
