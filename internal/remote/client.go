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
	"time"

	"github.com/roach88/benchsync/internal/model"
)

// DefaultTimeout bounds every HTTP request made by Client.
const DefaultTimeout = 15 * time.Second

// Client talks to the reference relay over HTTP.
type Client struct {
	base    *url.URL
	replica string
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client for the relay at baseURL acting as replicaID.
func NewClient(baseURL, replicaID string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:    u,
		replica: replicaID,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Replica returns the replica id the client identifies as.
func (c *Client) Replica() string {
	return c.replica
}

// PushBatch implements Pusher.
func (c *Client) PushBatch(ctx context.Context, entries []model.OutboxEntry) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(BatchRequest{Origin: c.replica, Entries: entries}); err != nil {
		return fmt.Errorf("push batch: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(PathBatch, nil), &body)
	if err != nil {
		return fmt.Errorf("push batch: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("push batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError("push batch", resp)
	}
	return nil
}

// Changes implements Feed.
func (c *Client) Changes(ctx context.Context, since int64) (ChangeSet, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	q.Set("replica", c.replica)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(PathChanges, q), nil)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("changes: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("changes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ChangeSet{}, statusError("changes", resp)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var cs ChangeSet
	if err := dec.Decode(&cs); err != nil {
		return ChangeSet{}, fmt.Errorf("changes: decode: %w", err)
	}
	return cs, nil
}

// Ping implements Pinger.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(PathHealth, nil), nil)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError("ping", resp)
	}
	return nil
}

// WatchURL returns the websocket URL of the relay's watch endpoint.
func (c *Client) WatchURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += PathWatch
	return u.String()
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path += path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
