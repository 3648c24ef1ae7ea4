package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dslite-io/dslite/internal/sqlite"
	"github.com/dslite-io/dslite/internal/sqliteds"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRouter(t *testing.T, rateLimit int) http.Handler {
	t.Helper()
	db, err := sqlite.Open(sqlite.MemoryPath, sqlite.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := sqliteds.New(db)
	t.Cleanup(func() { _ = store.Close() })

	return New(store, nil, db, rateLimit).Router()
}

func doJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into))
}

func TestPutGetRoundTrip(t *testing.T) {
	h := newTestRouter(t, 0)

	rec := doJSON(t, h, "/v1/put", `{"entities":[{
		"key":{"kind":"Person"},
		"properties":[
			{"name":"age","type":"int64","value":41},
			{"name":"city","type":"string","value":"Berlin"},
			{"name":"active","type":"boolean","value":true},
			{"name":"score","type":"double","value":2.5}
		]}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var put putResponse
	decodeInto(t, rec, &put)
	require.Len(t, put.Keys, 1)
	require.NotZero(t, put.Keys[0].ID)

	rec = doJSON(t, h, "/v1/get",
		fmt.Sprintf(`{"keys":[{"kind":"Person","id":%d}]}`, put.Keys[0].ID))
	require.Equal(t, http.StatusOK, rec.Code)

	var got getResponse
	decodeInto(t, rec, &got)
	require.Len(t, got.Entities, 1)
	require.NotNil(t, got.Entities[0])

	pl := got.Entities[0].Properties
	age, ok := pl.Get("age")
	require.True(t, ok)
	require.Equal(t, int64(41), age.Value)
	city, ok := pl.Get("city")
	require.True(t, ok)
	require.Equal(t, "Berlin", city.Value)
	active, ok := pl.Get("active")
	require.True(t, ok)
	require.Equal(t, true, active.Value)
	score, ok := pl.Get("score")
	require.True(t, ok)
	require.Equal(t, 2.5, score.Value)
}

func TestGetMissingEntityIsNull(t *testing.T) {
	h := newTestRouter(t, 0)

	rec := doJSON(t, h, "/v1/put", `{"entities":[{
		"key":{"kind":"Person","id":1},
		"properties":[{"name":"age","type":"int64","value":1}]}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, "/v1/get",
		`{"keys":[{"kind":"Person","id":1},{"kind":"Person","id":999}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got getResponse
	decodeInto(t, rec, &got)
	require.Len(t, got.Entities, 2)
	require.NotNil(t, got.Entities[0])
	require.Nil(t, got.Entities[1])
}

func TestDeleteEndpoint(t *testing.T) {
	h := newTestRouter(t, 0)

	rec := doJSON(t, h, "/v1/put", `{"entities":[{
		"key":{"kind":"Person","name":"ann"},
		"properties":[{"name":"age","type":"int64","value":30}]}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, "/v1/delete", `{"keys":[{"kind":"Person","name":"ann"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, "/v1/get", `{"keys":[{"kind":"Person","name":"ann"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var got getResponse
	decodeInto(t, rec, &got)
	require.Nil(t, got.Entities[0])
}

func TestQueryAndNext(t *testing.T) {
	h := newTestRouter(t, 0)

	for i := 1; i <= 3; i++ {
		rec := doJSON(t, h, "/v1/put", fmt.Sprintf(`{"entities":[{
			"key":{"kind":"Person","id":%d},
			"properties":[{"name":"age","type":"int64","value":%d}]}]}`, i, i*10))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, h, "/v1/query", `{
		"kind":"Person",
		"filters":[{"property":"age","op":">=","type":"int64","value":10}],
		"orders":[{"property":"age","direction":"desc"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var q queryResponse
	decodeInto(t, rec, &q)
	require.True(t, q.More)

	rec = doJSON(t, h, "/v1/next", fmt.Sprintf(`{"cursor":%d,"count":2}`, q.Cursor))
	require.Equal(t, http.StatusOK, rec.Code)
	var n nextResponse
	decodeInto(t, rec, &n)
	require.Len(t, n.Entities, 2)
	require.True(t, n.More)
	require.Equal(t, int64(3), n.Entities[0].Key.ID)

	rec = doJSON(t, h, "/v1/next", fmt.Sprintf(`{"cursor":%d}`, q.Cursor))
	require.Equal(t, http.StatusOK, rec.Code)
	n = nextResponse{}
	decodeInto(t, rec, &n)
	require.Len(t, n.Entities, 1)
	require.False(t, n.More)

	// The cursor is gone once drained.
	rec = doJSON(t, h, "/v1/next", fmt.Sprintf(`{"cursor":%d}`, q.Cursor))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransactionEndpoints(t *testing.T) {
	h := newTestRouter(t, 0)

	rec := doJSON(t, h, "/v1/tx/begin", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var tx txResponse
	decodeInto(t, rec, &tx)
	require.NotZero(t, tx.Tx)

	rec = doJSON(t, h, "/v1/put", fmt.Sprintf(`{"tx":%d,"entities":[{
		"key":{"kind":"Person","id":7},
		"properties":[{"name":"age","type":"int64","value":7}]}]}`, tx.Tx))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, "/v1/tx/commit", fmt.Sprintf(`{"tx":%d}`, tx.Tx))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, "/v1/get", `{"keys":[{"kind":"Person","id":7}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var got getResponse
	decodeInto(t, rec, &got)
	require.NotNil(t, got.Entities[0])

	// Committed handles are gone.
	rec = doJSON(t, h, "/v1/tx/commit", fmt.Sprintf(`{"tx":%d}`, tx.Tx))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransactionRollbackDiscards(t *testing.T) {
	h := newTestRouter(t, 0)

	// Create the table outside the transaction so the rollback only
	// discards the row.
	rec := doJSON(t, h, "/v1/put", `{"entities":[{
		"key":{"kind":"Person","id":1},
		"properties":[{"name":"age","type":"int64","value":1}]}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, "/v1/tx/begin", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var tx txResponse
	decodeInto(t, rec, &tx)

	rec = doJSON(t, h, "/v1/put", fmt.Sprintf(`{"tx":%d,"entities":[{
		"key":{"kind":"Person","id":2},
		"properties":[{"name":"age","type":"int64","value":2}]}]}`, tx.Tx))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, "/v1/tx/rollback", fmt.Sprintf(`{"tx":%d}`, tx.Tx))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, "/v1/get", `{"keys":[{"kind":"Person","id":2}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var got getResponse
	decodeInto(t, rec, &got)
	require.Nil(t, got.Entities[0])
}

func TestUnknownTransactionHandle(t *testing.T) {
	h := newTestRouter(t, 0)

	rec := doJSON(t, h, "/v1/put", `{"tx":99,"entities":[{
		"key":{"kind":"Person","id":1},
		"properties":[]}]}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBadRequestBodies(t *testing.T) {
	h := newTestRouter(t, 0)

	cases := []struct {
		path string
		body string
	}{
		{"/v1/put", `{not json`},
		{"/v1/put", `{"entities":[]}`},
		{"/v1/get", `{"keys":[]}`},
		{"/v1/delete", `{}`},
		{"/v1/query", `{"kind":"Person","filters":[{"property":"age","op":"="}]}`},
		{"/v1/next", `{"unknown_field":1}`},
	}
	for _, tc := range cases {
		rec := doJSON(t, h, tc.path, tc.body)
		require.Equalf(t, http.StatusBadRequest, rec.Code, "%s %s", tc.path, tc.body)
	}
}

func TestValidationErrorsAre400(t *testing.T) {
	h := newTestRouter(t, 0)

	rec := doJSON(t, h, "/v1/put", `{"entities":[{
		"key":{"kind":"Person","id":1},
		"properties":[{"name":"age","type":"int64","value":1}]}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	cases := []struct {
		name string
		path string
		body string
	}{
		{"kind with space", "/v1/put", `{"entities":[{
			"key":{"kind":"Bad Kind"},
			"properties":[{"name":"age","type":"int64","value":1}]}]}`},
		{"key with id and name", "/v1/put", `{"entities":[{
			"key":{"kind":"Person","id":1,"name":"ann"},
			"properties":[{"name":"age","type":"int64","value":1}]}]}`},
		{"get incomplete key", "/v1/get", `{"keys":[{"kind":"Person"}]}`},
		{"delete incomplete key", "/v1/delete", `{"keys":[{"kind":"Person"}]}`},
		{"unsupported operator", "/v1/query", `{
			"kind":"Person",
			"filters":[{"property":"age","op":"!=","type":"int64","value":1}]}`},
	}
	for _, tc := range cases {
		rec = doJSON(t, h, tc.path, tc.body)
		require.Equalf(t, http.StatusBadRequest, rec.Code, "%s: %s", tc.name, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "dslite")
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestRouter(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "fixed-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "fixed-id", rec.Header().Get(HeaderRequestID))
}

func TestRateLimit(t *testing.T) {
	h := newTestRouter(t, 2)

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		last = rec.Code
	}
	require.Equal(t, http.StatusTooManyRequests, last)
}
