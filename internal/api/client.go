package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"thermoboard-agent/internal/registry"
)

// Client talks to a running daemon's control API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a client for the API listening on listen (host:port or
// a full URL).
func NewClient(listen string) *Client {
	base := listen
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		BaseURL: strings.TrimRight(base, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Health returns the daemon's health document.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *Client) Boards(ctx context.Context) (*BoardsResponse, error) {
	var out BoardsResponse
	if err := c.do(ctx, http.MethodGet, "/boards", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Sensors(ctx context.Context, connectedOnly bool) (*SensorsResponse, error) {
	path := "/sensors"
	if connectedOnly {
		path += "?connected=true"
	}
	var out SensorsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Rejections(ctx context.Context) ([]registry.Rejection, error) {
	var out struct {
		Rejections []registry.Rejection `json:"rejections"`
	}
	if err := c.do(ctx, http.MethodGet, "/rejections", nil, &out); err != nil {
		return nil, err
	}
	return out.Rejections, nil
}

// Scan asks the daemon to rescan its serial ports.
func (c *Client) Scan(ctx context.Context) (*ScanResponse, error) {
	var out ScanResponse
	if err := c.do(ctx, http.MethodPost, "/scan", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Measure triggers one measurement round and returns the connected sensors.
func (c *Client) Measure(ctx context.Context) (*MeasureResponse, error) {
	var out MeasureResponse
	if err := c.do(ctx, http.MethodPost, "/measure", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Connect(ctx context.Context, name string) (bool, error) {
	return c.change(ctx, name, "connect", nil)
}

func (c *Client) Disconnect(ctx context.Context, name string) (bool, error) {
	return c.change(ctx, name, "disconnect", nil)
}

func (c *Client) Rename(ctx context.Context, oldName, newName string) (bool, error) {
	return c.change(ctx, oldName, "rename", RenameRequest{Name: newName})
}

func (c *Client) change(ctx context.Context, name, op string, body interface{}) (bool, error) {
	var out ChangeResponse
	path := "/sensors/" + url.PathEscape(name) + "/" + op
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return false, err
	}
	return out.Changed, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("reach daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, e.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
