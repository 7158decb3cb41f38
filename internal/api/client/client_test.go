package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/sebas/callmanager/api/types/v1"
)

func newTestServer(t *testing.T) (*Client, *types.DockRequest) {
	t.Helper()
	var dock types.DockRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(types.StatsResponse{TotalCalls: 2, ForegroundCall: "c1"})
	})
	mux.HandleFunc("/api/v1/calllog", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode([]types.CallLogEntry{{ID: "r1"}})
	})
	mux.HandleFunc("/api/v1/peripherals/dock", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&dock))
		if dock.State == "boat" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: "unknown dock state"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v1/peripherals/media-button", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(types.MediaButtonResponse{Handled: true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL), &dock
}

func TestGetters(t *testing.T) {
	c, _ := newTestServer(t)
	ctx := context.Background()

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalCalls)
	assert.Equal(t, "c1", stats.ForegroundCall)

	entries, err := c.CallLog(ctx, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "r1", entries[0].ID)

	_, err = c.Accounts(ctx)
	assert.Error(t, err)
}

func TestPosts(t *testing.T) {
	c, dock := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, c.SetDock(ctx, "car"))
	assert.Equal(t, "car", dock.State)

	err := c.SetDock(ctx, "boat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dock state")

	handled, err := c.MediaButton(ctx, false)
	require.NoError(t, err)
	assert.True(t, handled)
}
