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

func TestBindingResolved(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/log_bindings/single/0/2/1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"path": "/var/log/herd/q2-t1.log"})
	}))
	defer ts.Close()

	path, ok := NewBindingClient(ts.URL).Binding(types.ModeSingle, 0, 2, 1)
	require.True(t, ok)
	assert.Equal(t, "/var/log/herd/q2-t1.log", path)
}

func TestBindingMissing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	_, ok := NewBindingClient(ts.URL).Binding(types.ModeSingle, 0, 1, 0)
	assert.False(t, ok)
}

func TestBindingEmptyPath(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"path": ""})
	}))
	defer ts.Close()

	_, ok := NewBindingClient(ts.URL).Binding(types.ModeMulti, 1, 0, 0)
	assert.False(t, ok)
}

func TestBindingRegistryUnreachable(t *testing.T) {
	_, ok := NewBindingClient("http://127.0.0.1:1").Binding(types.ModeSingle, 0, 0, 0)
	assert.False(t, ok)
}
