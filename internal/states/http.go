// Package states provides ready-made engine.State implementations for
// common step shapes (HTTP calls, shell commands, structured logging),
// adapted from the teacher's pluggable Action registry into states a
// registration.StateSpec.Factory can construct directly.
package states

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/logimos/reactor/internal/engine"

	"go.uber.org/zap"
)

// HTTPState performs one HTTP request. On a 2xx status it advances to the
// next state with the status code and parsed body as its output; any other
// status is returned as an error.
type HTTPState struct {
	id     string
	logger *zap.Logger
	client *http.Client

	URL     string
	Method  string
	Headers map[string]string
	Body    interface{}
}

// NewHTTPState builds an HTTPState with the given id.
func NewHTTPState(id string, logger *zap.Logger) *HTTPState {
	return &HTTPState{
		id:     id,
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
		Method: http.MethodGet,
	}
}

func (s *HTTPState) ID() string { return s.id }

func (s *HTTPState) Execute(ctx context.Context, actions engine.Actions) (engine.ExecutionResult, error) {
	if s.URL == "" {
		return engine.ExecutionResult{}, fmt.Errorf("state %q: url is required", s.id)
	}

	var body io.Reader
	if s.Body != nil {
		data, err := json.Marshal(s.Body)
		if err != nil {
			return engine.ExecutionResult{}, fmt.Errorf("state %q: failed to marshal request body: %w", s.id, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, s.Method, s.URL, body)
	if err != nil {
		return engine.ExecutionResult{}, fmt.Errorf("state %q: failed to build request: %w", s.id, err)
	}
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	s.logger.Info("executing http state", zap.String("state", s.id), zap.String("method", s.Method), zap.String("url", s.URL))

	resp, err := s.client.Do(req)
	if err != nil {
		return engine.ExecutionResult{}, fmt.Errorf("state %q: http request failed: %w", s.id, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return engine.ExecutionResult{}, fmt.Errorf("state %q: failed to read response: %w", s.id, err)
	}

	var parsed interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			parsed = string(raw)
		}
	}

	output := map[string]interface{}{
		"statusCode": resp.StatusCode,
		"body":       parsed,
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return actions.Next(nil, output), nil
	}
	return engine.ExecutionResult{}, fmt.Errorf("state %q: http request returned status %d", s.id, resp.StatusCode)
}
