// Package client provides an HTTP client for the Arcana server.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcana-app/arcana-go/internal/models"
)

// Client talks to the Arcana server's REST and stream endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client.
// If baseURL is empty, uses ARCANA_SERVER_URL env var or defaults to localhost:8484.
// Timeout can be configured via ARCANA_CLIENT_TIMEOUT env var (default 30s;
// streaming requests are exempt and run until the job terminates).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("ARCANA_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := 30 * time.Second
	if t := os.Getenv("ARCANA_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a structured error response from the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d (%s): %s", e.Status, e.Code, e.Message)
}

// StartResult is the server's response to a job submission.
type StartResult struct {
	JobID   string `json:"job_id"`
	Created bool   `json:"created"`
}

// Spread is one layout from the server's catalogue.
type Spread struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Positions []string `json:"positions"`
}

// StartReading submits a reading job. The server responds before generation
// finishes; poll GetReading or attach Stream to follow progress.
func (c *Client) StartReading(ctx context.Context, req models.ReadingRequest) (*StartResult, error) {
	var out StartResult
	if err := c.do(ctx, http.MethodPost, "/api/readings", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetReading fetches the job's current view.
func (c *Client) GetReading(ctx context.Context, jobID string) (*models.JobView, error) {
	var out models.JobView
	if err := c.do(ctx, http.MethodGet, "/api/readings/"+jobID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelReading requests cancellation. Cancelling a finished job is a no-op
// on the server and still returns ok.
func (c *Client) CancelReading(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/api/readings/"+jobID+"/cancel", nil, nil)
}

// ListReadings fetches the views of all jobs the server still holds in
// memory.
func (c *Client) ListReadings(ctx context.Context) ([]models.JobView, error) {
	var out []models.JobView
	if err := c.do(ctx, http.MethodGet, "/api/readings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSpreads fetches the spread catalogue.
func (c *Client) ListSpreads(ctx context.Context) ([]Spread, error) {
	var out []Spread
	if err := c.do(ctx, http.MethodGet, "/api/spreads", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAlerts fetches the most recent quality regression alerts.
func (c *Client) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	path := "/api/alerts"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []models.Alert
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do sends one request and decodes the response, mapping non-2xx statuses
// to *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = "unknown"
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Stream attaches to a job's event feed over SSE and invokes onEvent for
// each event, backlog first. It returns nil when the job reaches a terminal
// state and the server closes the feed. Return an error from onEvent to
// abort early.
func (c *Client) Stream(ctx context.Context, jobID string, onEvent func(models.Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/readings/"+jobID+"/stream", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream lives as long as the job runs, so the client-wide timeout
	// must not apply.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = "unknown"
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// StreamWS attaches to a job's event feed over websocket. Semantics match
// Stream; useful behind proxies that buffer SSE.
func (c *Client) StreamWS(ctx context.Context, jobID string, onEvent func(models.Event) error) error {
	wsURL := c.baseURL + "/api/readings/" + jobID + "/stream"
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket connect: %w (status %s)", err, resp.Status)
		}
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := onEvent(ev); err != nil {
			return err
		}
	}
}

// FormatEvent renders an event as a one-line human summary, used by the CLI.
func FormatEvent(ev models.Event) string {
	var b strings.Builder
	b.WriteString("[" + strconv.FormatUint(ev.Seq, 10) + "] ")
	b.WriteString(ev.Type)
	switch ev.Type {
	case models.EventStateChanged:
		if s, ok := ev.Data["state"].(string); ok {
			b.WriteString(" -> " + s)
		}
	case models.EventProgress:
		if stage, ok := ev.Data["stage"].(string); ok {
			b.WriteString(": " + stage)
		}
	case models.EventProviderAttempt, models.EventProviderFailed:
		if p, ok := ev.Data["provider"].(string); ok {
			b.WriteString(" (" + p + ")")
		}
	case models.EventGateDecision:
		if o, ok := ev.Data["outcome"].(string); ok {
			b.WriteString(": " + o)
		}
	}
	return b.String()
}
