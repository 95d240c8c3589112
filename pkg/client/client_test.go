package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herdctl/herd/pkg/types"
)

func TestStartScheduler(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/schedulers", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"identity": map[string]any{"mode": "single", "config_index": 2},
			"pid":      4321,
		})
	}))
	defer ts.Close()

	result, err := NewClient(ts.URL).StartScheduler(types.ModeSingle, 2)
	require.NoError(t, err)

	assert.Equal(t, "single", gotBody["mode"])
	assert.Equal(t, float64(2), gotBody["config_index"])
	assert.Equal(t, types.ModeSingle, result.Identity.Mode)
	assert.Equal(t, 2, result.Identity.ConfigIndex)
	assert.Equal(t, 4321, result.PID)
}

func TestStartSchedulerAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "scheduler identity is busy: single/0"})
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).StartScheduler(types.ModeSingle, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler identity is busy")
}

func TestStopScheduler(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/v1/schedulers/multi/1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	assert.NoError(t, NewClient(ts.URL).StopScheduler(types.ModeMulti, 1))
}

func TestGetSchedulerNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "scheduler not found: single/0"})
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).GetScheduler(types.ModeSingle, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler not found")
}

func TestListSchedulers(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/schedulers", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{"mode": "single", "config_index": 0, "state": "running"},
		})
	}))
	defer ts.Close()

	snaps, err := NewClient(ts.URL).ListSchedulers()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, types.InstanceStateRunning, snaps[0].State)
}

func TestClientUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.ListSchedulers()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reach control plane")
}
