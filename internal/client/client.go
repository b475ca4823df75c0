// Package client talks to a running vivarium over its HTTP API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lazypower/vivarium/internal/life"
	"github.com/lazypower/vivarium/internal/stimulus"
	"github.com/lazypower/vivarium/internal/store"
)

const (
	defaultServerURL = "http://127.0.0.1:37780"
	httpTimeout      = 5 * time.Second
)

// Client talks to the vivarium server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for serverURL. An empty serverURL falls back to
// VIVARIUM_URL, then to http://127.0.0.1:37780.
func New(serverURL string) *Client {
	if serverURL == "" {
		serverURL = os.Getenv("VIVARIUM_URL")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: strings.TrimRight(serverURL, "/"),
	}
}

// URL returns the base URL the client talks to.
func (c *Client) URL() string { return c.serverURL }

// Post sends a POST request with JSON body. Returns response body.
func (c *Client) Post(path string, body []byte) ([]byte, error) {
	resp, err := c.http.Post(c.serverURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}

// Get sends a GET request. Returns response body.
func (c *Client) Get(path string) ([]byte, error) {
	resp, err := c.http.Get(c.serverURL + path)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy() bool {
	resp, err := c.http.Get(c.serverURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Health returns the raw health document.
func (c *Client) Health() (map[string]any, error) {
	var out map[string]any
	if err := c.getJSON("/api/health", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status fetches the current view of the life.
func (c *Client) Status() (life.View, error) {
	var v life.View
	if err := c.getJSON("/api/status", &v); err != nil {
		return life.View{}, err
	}
	return v, nil
}

// Poke submits a stimulus and reports whether it was queued.
func (c *Client) Poke(in stimulus.Input) (bool, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return false, fmt.Errorf("encode stimulus: %w", err)
	}
	data, err := c.Post("/api/stimuli", body)
	if err != nil {
		return false, err
	}
	var resp struct {
		Queued bool `json:"queued"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, fmt.Errorf("decode poke response: %w", err)
	}
	return resp.Queued, nil
}

// Archive lists archived memories, newest first. An empty category
// matches all.
func (c *Client) Archive(category string, limit int) ([]store.ArchivedEntry, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Entries []store.ArchivedEntry `json:"entries"`
	}
	if err := c.getJSON(withQuery("/api/archive", q), &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Causal lists recent causal records, newest first.
func (c *Client) Causal(limit int) ([]store.CausalEntry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Records []store.CausalEntry `json:"records"`
	}
	if err := c.getJSON(withQuery("/api/causal", q), &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *Client) getJSON(path string, v any) error {
	data, err := c.Get(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
