package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/szaretsky/queueprocessor/internal/worker"
)

// Client talks to a running control server
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at addr (host:port or a URL)
func NewClient(addr string, timeout time.Duration) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Set sends new settings for one or more queues
func (c *Client) Set(ctx context.Context, patches []worker.SettingsPatch) error {
	body, err := c.command(ctx, Command{Set: patches})
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(body)) != "OK" {
		return fmt.Errorf("unexpected control response %q", body)
	}
	return nil
}

// Stats returns the live status table
func (c *Client) Stats(ctx context.Context) ([]worker.QueueStatus, error) {
	body, err := c.command(ctx, Command{Get: GetStats})
	if err != nil {
		return nil, err
	}

	var stats []worker.QueueStatus
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	return stats, nil
}

// Enqueue stores an event through the queue API and returns its id
func (c *Client) Enqueue(ctx context.Context, queueID int, data map[string]any) (int64, error) {
	payload, err := json.Marshal(EnqueueRequest{Event: data})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	url := c.baseURL + "/api/v1/queues/" + strconv.Itoa(queueID) + "/events"
	body, status, err := c.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return 0, err
	}
	if status != http.StatusCreated {
		return 0, fmt.Errorf("enqueue failed with status %d: %s", status, strings.TrimSpace(string(body)))
	}

	var resp EnqueueResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to decode enqueue response: %w", err)
	}
	return resp.EventID, nil
}

func (c *Client) command(ctx context.Context, cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	body, status, err := c.do(ctx, http.MethodPost, c.baseURL+"/", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("control request failed with status %d", status)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to reach control server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
