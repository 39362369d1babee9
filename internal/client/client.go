// Package client talks to a plank server over HTTP.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/bytedance/sonic"

	"github.com/brunoga/plank/internal/drag"
	"github.com/brunoga/plank/internal/storage"
)

// Client wraps http.Client with the plank JSON endpoints.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{}}
}

// ConfirmMove implements drag.Confirmer against POST /api/moves. A response
// that cannot be read is an error, same as a dropped connection.
func (c *Client) ConfirmMove(ctx context.Context, req drag.MoveRequest) (drag.MoveResult, error) {
	var res drag.MoveResult
	status, err := c.do(ctx, http.MethodPost, "/api/moves", req, &res)
	if err != nil {
		return drag.MoveResult{}, err
	}
	if status >= http.StatusInternalServerError && res.Error == "" {
		return drag.MoveResult{}, fmt.Errorf("confirm move: server returned %d", status)
	}
	return res, nil
}

// Board fetches the board tree used to initialize a store.
func (c *Client) Board(ctx context.Context, boardID string) (storage.Board, error) {
	var b storage.Board
	status, err := c.do(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(boardID), nil, &b)
	if err != nil {
		return storage.Board{}, err
	}
	if status != http.StatusOK {
		return storage.Board{}, fmt.Errorf("load board %s: server returned %d", boardID, status)
	}
	return b, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var payload io.Reader
	if body != nil {
		buf, err := sonic.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		payload = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, payload)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	if len(data) == 0 {
		return resp.StatusCode, nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response (%d): %w", resp.StatusCode, err)
	}
	return resp.StatusCode, nil
}
