package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dtnewman/appt-booking/internal/chat"
)

// HTTPChat talks to a running API server's chat endpoint, letting the
// simulated customer exercise the full HTTP path.
type HTTPChat struct {
	baseURL string
	client  *http.Client
}

func NewHTTPChat(baseURL string, client *http.Client) *HTTPChat {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &HTTPChat{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (h *HTTPChat) Respond(ctx context.Context, req chat.Request) (*chat.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("agent: failed to encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agent: failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent: chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("agent: chat endpoint returned %d: %s", resp.StatusCode, snippet)
	}

	var out chat.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("agent: failed to decode chat response: %w", err)
	}
	return &out, nil
}
