// Package client is a Go client for the eline REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/newtron-network/eline/pkg/api"
	"github.com/newtron-network/eline/pkg/evc"
	"github.com/newtron-network/eline/pkg/stats"
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Description)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client issues requests against one eline server.
type Client struct {
	base        string
	evcPrefix   string
	statsPrefix string
	user        string
	httpC       *http.Client
	retryFor    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithUser sets the caller name recorded in the server's audit trail.
func WithUser(user string) Option {
	return func(c *Client) { c.user = user }
}

// WithPrefixes overrides the EVC and statistics route prefixes.
func WithPrefixes(evcPrefix, statsPrefix string) Option {
	return func(c *Client) {
		c.evcPrefix = strings.TrimSuffix(evcPrefix, "/")
		c.statsPrefix = strings.TrimSuffix(statsPrefix, "/")
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpC = h }
}

// WithRetry retries reads that fail to reach the server for up to d.
// Zero disables retries.
func WithRetry(d time.Duration) Option {
	return func(c *Client) { c.retryFor = d }
}

// New creates a client for the server at base, e.g. "http://127.0.0.1:8181".
func New(base string, opts ...Option) *Client {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := &Client{
		base:        strings.TrimSuffix(base, "/"),
		evcPrefix:   api.DefaultEVCPrefix,
		statsPrefix: api.DefaultStatsPrefix,
		httpC:       &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.user != "" {
		req.Header.Set(api.UserHeader, c.user)
	}

	resp, err := c.httpC.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e api.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Description != "" {
			apiErr.Description = e.Description
		} else {
			apiErr.Description = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// get retries transport failures; API errors are returned at once.
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	if c.retryFor <= 0 {
		return c.do(ctx, http.MethodGet, path, nil, out)
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(c.retryFor),
	)
	return err
}

// ListCircuits returns circuits keyed by id.
func (c *Client) ListCircuits(ctx context.Context, archived bool) (map[string]*evc.EVC, error) {
	path := c.evcPrefix + "/evc/"
	if archived {
		path += "?archived=true"
	}
	var out map[string]*evc.EVC
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCircuit returns one circuit.
func (c *Client) GetCircuit(ctx context.Context, id string) (*evc.EVC, error) {
	var out evc.EVC
	if err := c.get(ctx, c.evcPrefix+"/evc/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCircuit posts a raw JSON circuit request.
func (c *Client) CreateCircuit(ctx context.Context, body []byte) (*evc.EVC, error) {
	var out evc.EVC
	if err := c.do(ctx, http.MethodPost, c.evcPrefix+"/evc/", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PatchCircuit sends a raw JSON partial update.
func (c *Client) PatchCircuit(ctx context.Context, id string, body []byte) (*evc.EVC, error) {
	var out evc.EVC
	if err := c.do(ctx, http.MethodPatch, c.evcPrefix+"/evc/"+url.PathEscape(id), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteCircuit archives a circuit and returns the server's message.
func (c *Client) DeleteCircuit(ctx context.Context, id string) (string, error) {
	var out api.DeleteResponse
	if err := c.do(ctx, http.MethodDelete, c.evcPrefix+"/evc/"+url.PathEscape(id), nil, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// RedeployCircuit recomputes a circuit's path.
func (c *Client) RedeployCircuit(ctx context.Context, id string) (*evc.EVC, error) {
	var out evc.EVC
	if err := c.do(ctx, http.MethodPatch, c.evcPrefix+"/evc/"+url.PathEscape(id)+"/redeploy", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func query(key string, values []string) string {
	if len(values) == 0 {
		return ""
	}
	q := url.Values{}
	for _, v := range values {
		q.Add(key, v)
	}
	return q.Encode()
}

// FlowStats returns dpid -> flow id -> record, optionally filtered by dpid.
func (c *Client) FlowStats(ctx context.Context, dpids ...string) (map[string]map[string]stats.FlowRecord, error) {
	path := c.statsPrefix + "/flow/stats"
	if q := query("dpid", dpids); q != "" {
		path += "?" + q
	}
	var out map[string]map[string]stats.FlowRecord
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TableStats returns dpid -> table id -> record.
func (c *Client) TableStats(ctx context.Context, dpids, tables []string) (map[string]map[string]stats.TableRecord, error) {
	var parts []string
	if q := query("dpid", dpids); q != "" {
		parts = append(parts, q)
	}
	if q := query("table", tables); q != "" {
		parts = append(parts, q)
	}
	path := c.statsPrefix + "/table/stats"
	if len(parts) > 0 {
		path += "?" + strings.Join(parts, "&")
	}
	var out map[string]map[string]stats.TableRecord
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PacketCount returns the packet view of one flow.
func (c *Client) PacketCount(ctx context.Context, flowID string) (*stats.PacketCounter, error) {
	var out stats.PacketCounter
	if err := c.get(ctx, c.statsPrefix+"/packet_count/"+url.PathEscape(flowID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BytesCount returns the byte view of one flow.
func (c *Client) BytesCount(ctx context.Context, flowID string) (*stats.BytesCounter, error) {
	var out stats.BytesCounter
	if err := c.get(ctx, c.statsPrefix+"/bytes_count/"+url.PathEscape(flowID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PacketCountPerFlow lists the packet view of every flow on a switch.
func (c *Client) PacketCountPerFlow(ctx context.Context, dpid string) ([]stats.PacketCounter, error) {
	var out []stats.PacketCounter
	if err := c.get(ctx, c.statsPrefix+"/packet_count/per_flow/"+url.PathEscape(dpid), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BytesCountPerFlow lists the byte view of every flow on a switch.
func (c *Client) BytesCountPerFlow(ctx context.Context, dpid string) ([]stats.BytesCounter, error) {
	var out []stats.BytesCounter
	if err := c.get(ctx, c.statsPrefix+"/bytes_count/per_flow/"+url.PathEscape(dpid), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status returns the server's status summary.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.get(ctx, "/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
