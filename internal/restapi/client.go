// Package restapi is the client for the location endpoints of the
// field-operations backend. All responses arrive in a {success, data}
// envelope and all requests carry the bearer credential.
package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fieldtrack/tracker/internal/auth"
	"github.com/fieldtrack/tracker/internal/model"
)

// Scope selects the role-dependent endpoint variant.
type Scope string

const (
	ScopeAll Scope = "all" // master/sub admin: every agent
	ScopeMy  Scope = "my"  // sub-admin: only assigned agents
)

type Client struct {
	baseURL string
	tokens  auth.TokenSource
	http    *http.Client
}

// NewClient builds a client with the given request timeout. The timeout
// aborts hung calls; an aborted call reads as an ordinary network failure
// to the caller's retry logic.
func NewClient(baseURL string, tokens auth.TokenSource, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: timeout},
	}
}

type agentsEnvelope struct {
	Success bool                  `json:"success"`
	Message string                `json:"message,omitempty"`
	Data    []model.AgentPresence `json:"data"`
}

type statsEnvelope struct {
	Success bool             `json:"success"`
	Message string           `json:"message,omitempty"`
	Data    model.AgentStats `json:"data"`
}

// FetchAgents loads the full presence snapshot for the scope.
func (c *Client) FetchAgents(ctx context.Context, scope Scope) ([]model.AgentPresence, error) {
	path := "/location/agents"
	if scope == ScopeMy {
		path = "/location/my-agents"
	}
	var env agentsEnvelope
	if err := c.getJSON(ctx, path, &env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("snapshot rejected by backend: %s", env.Message)
	}
	return env.Data, nil
}

// FetchStats loads the online/offline/total summary for the scope.
func (c *Client) FetchStats(ctx context.Context, scope Scope) (model.AgentStats, error) {
	path := "/location/stats"
	if scope == ScopeMy {
		path = "/location/my-stats"
	}
	var env statsEnvelope
	if err := c.getJSON(ctx, path, &env); err != nil {
		return model.AgentStats{}, err
	}
	if !env.Success {
		return model.AgentStats{}, fmt.Errorf("stats rejected by backend: %s", env.Message)
	}
	return env.Data, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.tokens.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("GET %s: status=%d body=%s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}
