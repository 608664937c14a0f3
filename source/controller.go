package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ftahirops/xconn/model"
)

// Controller is a client for the proxy's REST controller. Only the calls the
// connection table needs are implemented.
type Controller struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// VersionInfo is the controller's /version response.
type VersionInfo struct {
	Version string `json:"version"`
	Meta    bool   `json:"meta"`
	Premium bool   `json:"premium"`
}

// NewController creates a client for the controller at baseURL.
func NewController(baseURL, secret string) (*Controller, error) {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid controller url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid controller url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid controller url: missing host in %q", baseURL)
	}
	return &Controller{
		baseURL:    strings.TrimSuffix(u.String(), "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// do performs an authenticated request and decodes a JSON body into target
// when target is non-nil.
func (c *Controller) do(ctx context.Context, method, endpoint string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, nil)
	if err != nil {
		return err
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
	default:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: controller returned %s", method, endpoint, resp.Status)
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, endpoint, err)
	}
	return nil
}

// CloseAll asks the controller to terminate every connection.
func (c *Controller) CloseAll(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/connections", nil)
}

// CloseConnection terminates a single connection by id.
func (c *Controller) CloseConnection(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("close connection: empty id")
	}
	return c.do(ctx, http.MethodDelete, "/connections/"+url.PathEscape(id), nil)
}

// Version returns the controller's version information.
func (c *Controller) Version(ctx context.Context) (VersionInfo, error) {
	var v VersionInfo
	err := c.do(ctx, http.MethodGet, "/version", &v)
	return v, err
}

// Snapshot fetches one connections snapshot without opening a stream.
func (c *Controller) Snapshot(ctx context.Context) (model.Snapshot, error) {
	var s model.Snapshot
	err := c.do(ctx, http.MethodGet, "/connections", &s)
	return s, err
}
