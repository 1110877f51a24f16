// Package apiclient is the JSON-over-HTTP plumbing shared by the collaborator
// clients: request construction, auth headers, status checks and decoding.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zidewell/zidwell-team-sub000/pkg/logger"
)

// APIError is returned for any non-2xx response. Message carries the
// collaborator's own explanation when the body has one.
type APIError struct {
	Status  int
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// Reason returns the server-provided message of an *APIError anywhere in
// err's chain, or "" when there is none.
func Reason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Header is an extra request header.
type Header struct {
	Key, Value string
}

// JSON sends body (if any) as JSON and decodes a 2xx response into target.
func (c *Client) JSON(ctx context.Context, method, path string, body, target interface{}, headers ...Header) error {
	respBody, err := c.Raw(ctx, method, path, body, headers...)
	if err != nil {
		return err
	}

	if target != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Raw returns the full response body of a 2xx response. The body is read to
// completion before it is returned, so callers never see a truncated payload.
func (c *Client) Raw(ctx context.Context, method, path string, body interface{}, headers ...Header) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("base url is empty")
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}
	for _, h := range headers {
		req.Header.Set(h.Key, h.Value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("Upstream returned non-success status", logger.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		})
		return nil, &APIError{
			Status:  resp.StatusCode,
			Message: extractMessage(respBody),
			Body:    string(respBody),
		}
	}

	return respBody, nil
}

func extractMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	return envelope.Error
}
