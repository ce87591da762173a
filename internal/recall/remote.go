package recall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/recalld/recalld/internal/model"
)

// HTTPRemote queries a remote semantic-memory service over a small JSON
// protocol: POST /query with {namespace, query}, answered by {content}.
type HTTPRemote struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPRemote creates a remote-tier client. apiKey may be empty.
func NewHTTPRemote(baseURL, apiKey string) *HTTPRemote {
	return &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Query asks the remote service for relevant memory. An empty content answer
// means the service had nothing; the caller falls through to the next tier.
func (r *HTTPRemote) Query(ctx context.Context, ns, query string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"namespace": ns,
		"query":     query,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", &model.TransientError{Op: "remote query", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &model.TransientError{
			Op:  "remote query",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))),
		}
	}

	var out struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &model.TransientError{Op: "remote query", Err: fmt.Errorf("decode response: %w", err)}
	}
	return out.Content, nil
}
