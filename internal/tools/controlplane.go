// Package tools holds the clients for the pipeline's external
// collaborators: the home-automation control plane and the language-model
// provider. Every call returns either a success payload or a typed
// failure the resilience layer can classify as transient or permanent.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hearthd/voice-pipeline/internal/resilience"
	"github.com/rs/zerolog"
)

// ControlPlane calls services on the home-automation control plane over
// its REST API. It performs no retries itself; callers go through the
// resilience Invoker.
type ControlPlane struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  zerolog.Logger
}

// NewControlPlane creates a client for the control plane at baseURL.
func NewControlPlane(baseURL, token string, timeout time.Duration, logger zerolog.Logger) *ControlPlane {
	return &ControlPlane{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CallService invokes one service (e.g. domain "light", service
// "turn_on") with a JSON payload. Timeouts, connection failures, and
// upstream 5xx responses come back marked transient; validation and auth
// responses are permanent and must not be retried.
func (c *ControlPlane) CallService(ctx context.Context, domain, service string, data map[string]any) (map[string]any, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("tools: marshal service data: %w", err)
	}

	url := fmt.Sprintf("%s/api/services/%s/%s", c.baseURL, domain, service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tools: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("tools: call %s.%s: %w", domain, service, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("tools: read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return nil, resilience.Transient(fmt.Errorf("tools: %s.%s returned %d", domain, service, resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("tools: %s.%s rejected with %d: %s", domain, service, resp.StatusCode, raw)
	}

	result := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			// Some services answer with a bare array or empty body; keep
			// the raw text rather than failing the turn.
			result = map[string]any{"raw": string(raw)}
		}
	}

	c.logger.Debug().
		Str("domain", domain).
		Str("service", service).
		Int("status", resp.StatusCode).
		Msg("Control plane call succeeded")
	return result, nil
}

// FetchStates returns the control plane's current entity states, used as
// conversation context for the language model. Same failure typing as
// CallService.
func (c *ControlPlane) FetchStates(ctx context.Context) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/states", nil)
	if err != nil {
		return nil, fmt.Errorf("tools: build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("tools: fetch states: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, resilience.Transient(fmt.Errorf("tools: states returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tools: states rejected with %d", resp.StatusCode)
	}

	var states []map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&states); err != nil {
		return nil, resilience.Transient(fmt.Errorf("tools: decode states: %w", err))
	}
	return states, nil
}
