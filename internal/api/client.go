package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gwlsn/restreamer/internal/ffmpeg"
	"github.com/gwlsn/restreamer/internal/jobs"
)

// Client talks to a running restreamer server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL, e.g. http://localhost:8080.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code    int
	Kind    string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: resp.StatusCode, Kind: e.Kind, Message: e.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// List returns every job, newest first.
func (c *Client) List(ctx context.Context) ([]*jobs.Job, error) {
	var list []*jobs.Job
	err := c.do(ctx, http.MethodGet, "/api/jobs", nil, &list)
	return list, err
}

// Get returns one job.
func (c *Client) Get(ctx context.Context, id string) (*jobs.Job, error) {
	var job jobs.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Add creates a job.
func (c *Client) Add(ctx context.Context, in jobs.Input) (*jobs.Job, error) {
	var job jobs.Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs", in, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Start starts a job and returns its record.
func (c *Client) Start(ctx context.Context, id string) (*jobs.Job, error) {
	var job jobs.Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+id+"/start", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Stop stops a job and returns its record.
func (c *Client) Stop(ctx context.Context, id string) (*jobs.Job, error) {
	var job jobs.Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+id+"/stop", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Delete removes a job.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/jobs/"+id, nil, nil)
}

// Encoders returns the server's encoder variant order.
func (c *Client) Encoders(ctx context.Context) ([]ffmpeg.Variant, error) {
	var out struct {
		Encoders []ffmpeg.Variant `json:"encoders"`
	}
	err := c.do(ctx, http.MethodGet, "/api/encoders", nil, &out)
	return out.Encoders, err
}
