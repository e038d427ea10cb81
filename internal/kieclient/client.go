// Package kieclient is a small REST client for the KIE server's
// /services/rest/server API: just the calls the timer scenarios need.
package kieclient

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
)

const (
	// RestPath is appended to a node endpoint to form the client base URL.
	RestPath = "/kie-server/services/rest/server"

	// DefaultTimeout is the per-request timeout when Config.Timeout is zero.
	DefaultTimeout = 60 * time.Second

	userAgent = "timerharness/1.0"
)

// ErrFailure is returned when the server answers with a FAILURE service
// response.
var ErrFailure = errors.New("kie server reported failure")

// HTTPError is a non-2xx answer from the server.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Config describes one client session.
type Config struct {
	BaseURL  string
	User     string
	Password string
	Timeout  time.Duration
	// Format is the marshalling format. Only "json" is supported.
	Format string
}

// BaseURL builds the REST base URL for a node endpoint such as
// http://localhost:32768.
func BaseURL(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + RestPath
}

// ReleaseID identifies a deployable unit by its Maven coordinates.
type ReleaseID struct {
	GroupID    string `json:"group-id"`
	ArtifactID string `json:"artifact-id"`
	Version    string `json:"version"`
}

// String renders group:artifact:version.
func (r ReleaseID) String() string {
	return r.GroupID + ":" + r.ArtifactID + ":" + r.Version
}

// ContainerResource is the body of a create-container call.
type ContainerResource struct {
	ContainerID string    `json:"container-id"`
	ReleaseID   ReleaseID `json:"release-id"`
	Alias       string    `json:"container-alias,omitempty"`
	Status      string    `json:"status,omitempty"`
}

// ServerInfo is the subset of the server description we report.
type ServerInfo struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

type serviceResponse struct {
	Type   string          `json:"type"`
	Msg    string          `json:"msg"`
	Result json.RawMessage `json:"result"`
}

// Client talks to a single KIE server.
type Client struct {
	cfg    Config
	base   *url.URL
	client *http.Client
}

// New validates cfg and returns a client. No request is made; call Ping to
// check credentials.
func New(cfg Config) (*Client, error) {
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Format != "json" {
		return nil, fmt.Errorf("unsupported marshalling format %q", cfg.Format)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	return &Client{
		cfg:  cfg,
		base: base,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// Ping authenticates against the server root.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ServerInfo(ctx)
	return err
}

// ServerInfo returns the server description.
func (c *Client) ServerInfo(ctx context.Context) (ServerInfo, error) {
	var out struct {
		Info ServerInfo `json:"kie-server-info"`
	}
	err := c.service(ctx, http.MethodGet, "", nil, &out)
	return out.Info, err
}

// CreateContainer deploys a unit under res.ContainerID.
func (c *Client) CreateContainer(ctx context.Context, res ContainerResource) error {
	return c.service(ctx, http.MethodPut, "/containers/"+url.PathEscape(res.ContainerID), res, nil)
}

// DisposeContainer undeploys a unit.
func (c *Client) DisposeContainer(ctx context.Context, containerID string) error {
	return c.service(ctx, http.MethodDelete, "/containers/"+url.PathEscape(containerID), nil, nil)
}

// StartProcess starts processID in containerID and returns the new process
// instance id.
func (c *Client) StartProcess(ctx context.Context, containerID, processID string) (int64, error) {
	path := "/containers/" + url.PathEscape(containerID) + "/processes/" + url.PathEscape(processID) + "/instances"
	body, err := c.do(ctx, http.MethodPost, path, struct{}{})
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing process instance id %q: %w", body, err)
	}
	return id, nil
}

// Signal sends a named signal with an empty payload to every process
// instance in containerID.
func (c *Client) Signal(ctx context.Context, containerID, signal string) error {
	path := "/containers/" + url.PathEscape(containerID) + "/processes/instances/signal/" + url.PathEscape(signal)
	_, err := c.do(ctx, http.MethodPost, path, nil)
	return err
}

// service performs a call answered with a ServiceResponse envelope and
// decodes its result into out when out is non-nil.
func (c *Client) service(ctx context.Context, method, path string, in, out any) error {
	body, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var resp serviceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	if strings.EqualFold(resp.Type, "FAILURE") {
		return fmt.Errorf("%w: %s", ErrFailure, resp.Msg)
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decoding result of %s %s: %w", method, path, err)
		}
	}
	return nil
}

// do sends one request. A nil in sends the literal JSON null.
func (c *Client) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}

	var reqBody io.Reader
	if method != http.MethodGet && method != http.MethodDelete {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-KIE-ContentType", "JSON")
	req.Header.Set("User-Agent", userAgent)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response of %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
