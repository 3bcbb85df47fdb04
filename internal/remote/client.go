package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/roach88/avcs/internal/dag"
	"github.com/roach88/avcs/internal/ir"
)

// Client talks to a Server. It implements machine.Remote.
type Client[T, U any] struct {
	base     string
	http     *http.Client
	pageSize int
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	http     *http.Client
	pageSize int
}

// WithHTTPClient sets the transport. Default: http.DefaultClient.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.http = c
	}
}

// WithPageSize sets how many actions one Fetch asks for.
func WithPageSize(n int) ClientOption {
	return func(o *clientOptions) {
		o.pageSize = n
	}
}

// NewClient creates a Client for the server rooted at baseURL.
func NewClient[T, U any](baseURL string, opts ...ClientOption) *Client[T, U] {
	o := clientOptions{http: http.DefaultClient, pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pageSize <= 0 {
		o.pageSize = DefaultPageSize
	}
	return &Client[T, U]{
		base:     strings.TrimSuffix(baseURL, "/"),
		http:     o.http,
		pageSize: o.pageSize,
	}
}

// Fetch returns the page of remote history from fromID that follows lastID.
func (c *Client[T, U]) Fetch(ctx context.Context, fromID, lastID string) ([]dag.Action[T, U], error) {
	q := url.Values{}
	if fromID != "" {
		q.Set("from", fromID)
	}
	if lastID != "" {
		q.Set("after", lastID)
	}
	q.Set("limit", strconv.Itoa(c.pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/actions?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	var page []dag.Action[T, U]
	if err := c.do(req, &page); err != nil {
		return nil, fmt.Errorf("fetch after %q: %w", lastID, err)
	}
	return page, nil
}

// Submit posts actions to the remote, oldest first.
func (c *Client[T, U]) Submit(ctx context.Context, actions []dag.Action[T, U]) error {
	body, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/actions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	var resp receiveResponse
	if err := c.do(req, &resp); err != nil {
		return fmt.Errorf("submit %d actions: %w", len(actions), err)
	}
	return nil
}

// do sends req and decodes a 200 body into out. Error bodies that carry a
// history error code come back as *dag.Error.
func (c *Client[T, U]) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if v := resp.Header.Get(FormatHeader); v != "" && v != ir.FormatVersion {
		return fmt.Errorf("remote speaks action format %s, want %s", v, ir.FormatVersion)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Code != "" {
			return &dag.Error{Code: eb.Code, Message: eb.Message, ActionID: eb.ActionID}
		}
		return fmt.Errorf("remote returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
