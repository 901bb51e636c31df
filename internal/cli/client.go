package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"idlecore/internal/syncq"
)

const playerKeyHeader = "X-Player-Key"

// APIError is a non-2xx answer from the server. Anything else returned by
// the client is a transport failure.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsOffline reports whether err means the API could not be reached at all.
func IsOffline(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Join(ctx context.Context, playerKey string) (map[string]any, error) {
	var body map[string]any
	if playerKey != "" {
		body = map[string]any{"player_key": playerKey}
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/session/join", "", body, &out)
	return out, err
}

func (c *Client) Leave(ctx context.Context, playerKey string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/session/leave", playerKey, nil, &out)
	return out, err
}

func (c *Client) State(ctx context.Context, playerKey string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/state", playerKey, nil, &out)
	return out, err
}

func (c *Client) Click(ctx context.Context, playerKey string, multiplierHint *float64) (map[string]any, error) {
	var body map[string]any
	if multiplierHint != nil {
		body = map[string]any{"multiplier_hint": *multiplierHint}
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/click", playerKey, body, &out)
	return out, err
}

func (c *Client) Buy(ctx context.Context, playerKey, unitID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/purchase", playerKey, map[string]any{
		"unit_id": unitID,
	}, &out)
	return out, err
}

func (c *Client) BeginStreak(ctx context.Context, playerKey string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/streak/begin", playerKey, nil, &out)
	return out, err
}

func (c *Client) Catalog(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/catalog", "", nil, &out)
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, metric string, limit int) (map[string]any, error) {
	path := "/v1/leaderboard/" + url.PathEscape(metric)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, "", nil, &out)
	return out, err
}

func (c *Client) SyncReplay(ctx context.Context, playerKey string, commands []syncq.Command) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/sync/replay", playerKey, map[string]any{
		"commands": commands,
	}, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, playerKey string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if playerKey != "" {
		req.Header.Set(playerKeyHeader, playerKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Code = payload.Code
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
