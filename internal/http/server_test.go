package http

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/nikkolasg/hexjson"
	"github.com/stretchr/testify/require"

	"github.com/fzmap/mapserver/common/testlogger"
	"github.com/fzmap/mapserver/internal/mapserver"
	"github.com/fzmap/mapserver/internal/mapstore/memdb"
)

// modulus is large enough for the default precision and needs no key pair
// for the plaintext paths.
var modulus = big.NewInt(1000003 * 1000033)

func newTestServer(t *testing.T, mode mapserver.Mode) (*Server, *httptest.Server) {
	t.Helper()
	l := testlogger.New(t)
	backend, err := mapserver.New(memdb.NewStore(), mapserver.WithMode(mode), mapserver.WithLogger(l))
	require.NoError(t, err)
	s := New(backend, l)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

type response struct {
	Success     bool                     `json:"success"`
	Msg         *string                  `json:"msg"`
	Comparisons []mapserver.Comparison   `json:"comparisons"`
	Points      []mapserver.PlainPoint   `json:"points"`
	Previews    []mapserver.PlainPreview `json:"previews"`
	Info        *mapserver.PreviewInfo   `json:"info"`
}

func post(t *testing.T, ts *httptest.Server, producer, path string, body interface{}) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, ts.URL+path, &buf)
	require.NoError(t, err)
	if producer != "" {
		req.Header.Set(DefaultProducerHeader, producer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestProbes(t *testing.T) {
	s, ts := newTestServer(t, mapserver.Secure)

	for path, expected := range map[string]int{"/livez": http.StatusOK, "/readyz": http.StatusServiceUnavailable} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.Equal(t, expected, resp.StatusCode, path)
		_ = resp.Body.Close()
	}

	s.SetReady(true)
	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestProducerIdentityRequired(t *testing.T) {
	_, ts := newTestServer(t, mapserver.Secure)
	status, out := post(t, ts, "", "/producer/retrieve_previews", map[string]interface{}{"map_ids": []uint64{1}})
	require.Equal(t, http.StatusUnauthorized, status)
	require.False(t, out.Success)
}

func TestErrorStatuses(t *testing.T) {
	_, ts := newTestServer(t, mapserver.Secure)
	name := map[string]string{"machine": "mill", "material": "steel", "tool": "drill"}
	provider := func(mapID uint64, n *big.Int) map[string]interface{} {
		return map[string]interface{}{
			"map_id":   mapID,
			"map_name": name,
			"n":        n,
			"ap_ae":    []map[string]int64{{"ap": 1, "ae": 2}},
		}
	}

	status, out := post(t, ts, "alice", "/producer/request_comparisons_provider", provider(1, modulus))
	require.Equal(t, http.StatusOK, status)
	require.True(t, out.Success)
	require.Len(t, out.Comparisons, 1)
	require.Nil(t, out.Comparisons[0].Optimal)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"malformed", "/producer/retrieve_points", "{", http.StatusBadRequest},
		{"small modulus", "/producer/request_comparisons_provider", provider(2, big.NewInt(35)), http.StatusBadRequest},
		{"key mismatch", "/producer/request_comparisons_provider", provider(1, big.NewInt(1000003*1000037)), http.StatusConflict},
		{"unknown map", "/producer/request_comparisons_client", map[string]interface{}{"map_id": 7, "ap_ae": []map[string]int64{{"ap": 1, "ae": 2}}}, http.StatusNotFound},
		{"nothing to buy", "/producer/request_comparisons_client", map[string]interface{}{"map_id": 1, "ap_ae": []map[string]int64{{"ap": 1, "ae": 2}}}, http.StatusNotFound},
		{"no voucher", "/producer/retrieve_preview_info", map[string]interface{}{"map_id": 1}, http.StatusNotFound},
		{"unrequested", "/producer/retrieve_points", map[string]interface{}{"comparison_results": []map[string]uint64{{"point_id": 1}}}, http.StatusBadRequest},
		{"plaintext", "/producer/retrieve_points_plaintext", map[string]interface{}{"map_id": 1, "ap_ae": []map[string]int64{{"ap": 1, "ae": 2}}}, http.StatusPreconditionFailed},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			status, out := post(t, ts, "bob", test.path, test.body)
			require.Equal(t, test.status, status)
			require.False(t, out.Success)
			require.NotNil(t, out.Msg)
			require.NotEmpty(t, *out.Msg)
		})
	}
}

func TestPlaintextRoundTrip(t *testing.T) {
	_, ts := newTestServer(t, mapserver.Bypass)
	status, out := post(t, ts, "alice", "/producer/provide_records_plaintext", map[string]interface{}{
		"map_id":   3,
		"map_name": map[string]string{"machine": "mill", "material": "steel", "tool": "drill"},
		"n":        modulus,
		"points":   []map[string]int64{{"ap": 1, "ae": 1, "fz": 40, "usage": 2}},
	})
	require.Equal(t, http.StatusOK, status)
	require.True(t, out.Success)
	require.Nil(t, out.Msg)

	status, out = post(t, ts, "carol", "/producer/retrieve_points_plaintext", map[string]interface{}{
		"map_id": 3,
		"ap_ae":  []map[string]int64{{"ap": 1, "ae": 1}},
	})
	require.Equal(t, http.StatusOK, status)
	require.Len(t, out.Points, 1)
	require.Equal(t, int64(40), out.Points[0].FZ)
	require.Equal(t, int64(2), out.Points[0].Usage)

	status, out = post(t, ts, "erin", "/producer/retrieve_previews_plaintext", map[string]interface{}{"map_ids": []uint64{3}})
	require.Equal(t, http.StatusOK, status)
	require.Len(t, out.Previews, 1)
	shifted := out.Previews[0].Points[0].FZ

	status, out = post(t, ts, "erin", "/producer/retrieve_preview_info", map[string]interface{}{"map_id": 3})
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, out.Info)
	require.Equal(t, "drill", out.Info.Tool)
	require.Equal(t, int64(40), shifted-out.Info.Offset)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{mapserver.ErrEmptyRequest, http.StatusBadRequest},
		{fmt.Errorf("%w: point 3", mapserver.ErrPointNotStored), http.StatusNotFound},
		{mapserver.ErrAlreadyReverseQueried, http.StatusConflict},
		{mapserver.ErrPlaintextForbidden, http.StatusPreconditionFailed},
		{context.Canceled, http.StatusServiceUnavailable},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, test := range tests {
		require.Equal(t, test.status, StatusOf(test.err), test.err.Error())
	}
}
