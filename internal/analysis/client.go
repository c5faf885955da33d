// Package analysis triggers post-call transcript analysis and RAG indexing on the
// analysis service. Both calls are fire-and-report: the caller logs the outcome.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Result mirrors the analysis service response.
type Result struct {
	Success bool   `json:"success"`
	Mood    string `json:"mood,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, internalToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   internalToken,
		http:    &http.Client{Timeout: timeout},
	}
}

var ErrNotConfigured = errors.New("analysis: base url not configured")

// Analyze asks the service to analyze the call's transcript.
// A non-2xx status or success=false is returned as an error carrying the service message.
func (c *Client) Analyze(ctx context.Context, callID string) (Result, error) {
	var res Result
	path := "/v1/calls/" + url.PathEscape(callID) + "/analyze"
	if err := c.post(ctx, path, nil, &res); err != nil {
		return Result{}, err
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "analysis reported failure"
		}
		return res, fmt.Errorf("analyze %s: %s", callID, msg)
	}
	return res, nil
}

type indexRequest struct {
	CallID string `json:"callId"`
	WardID string `json:"wardId"`
}

// Index schedules the call transcript for vector indexing.
func (c *Client) Index(ctx context.Context, callID, wardID string) error {
	return c.post(ctx, "/v1/rag/index", indexRequest{CallID: callID, WardID: wardID}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}

	var rdr io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("POST %s: decode: %w", path, err)
		}
	}
	return nil
}
