package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/herdctl/herd/pkg/types"
)

// BindingClient resolves log bindings against the external display
// registry. A binding maps (mode, config index, queue id, process
// index) to an absolute log file path; a 404 means no binding exists
// and the caller routes child stdio to the scheduler log instead.
type BindingClient struct {
	baseURL string
	http    *http.Client
}

// NewBindingClient creates a binding resolver for the registry at
// baseURL.
func NewBindingClient(baseURL string) *BindingClient {
	return &BindingClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Binding returns the bound log path, or false when no binding exists
// or the registry is unreachable.
func (b *BindingClient) Binding(mode types.Mode, configIndex, queueID, processIndex int) (string, bool) {
	url := fmt.Sprintf("%s/api/log_bindings/%s/%d/%d/%d",
		b.baseURL, mode, configIndex, queueID, processIndex)

	resp, err := b.http.Get(url)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var body struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Path == "" {
		return "", false
	}
	return body.Path, true
}
