package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/OpenNSW/reportbuilder/internal/session"
)

// Client is a session.Session backed by an embed bridge.
type Client struct {
	baseURL    string
	reportID   string
	token      string
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithToken sends the token as a bearer credential on every call.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-call timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: timeout}
	}
}

// NewClient creates a client for one report behind the bridge at baseURL.
func NewClient(baseURL, reportID string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		reportID:   reportID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Loaded(ctx context.Context) bool {
	var status statusResponse
	if err := c.do(ctx, "Status", http.MethodGet, "/status", nil, &status); err != nil {
		slog.WarnContext(ctx, "bridge status check failed", "reportID", c.reportID, "error", err)
		return false
	}
	return status.Loaded
}

func (c *Client) ListPages(ctx context.Context) ([]session.PageInfo, error) {
	var pages []session.PageInfo
	if err := c.do(ctx, "ListPages", http.MethodGet, "/pages", nil, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

func (c *Client) RenamePage(ctx context.Context, name, newTitle string) error {
	return c.do(ctx, "RenamePage", http.MethodPatch, "/pages/"+url.PathEscape(name), titleRequest{Title: newTitle}, nil)
}

func (c *Client) CreatePage(ctx context.Context, title string) (session.PageInfo, error) {
	var page session.PageInfo
	if err := c.do(ctx, "CreatePage", http.MethodPost, "/pages", titleRequest{Title: title}, &page); err != nil {
		return session.PageInfo{}, err
	}
	return page, nil
}

func (c *Client) SetCurrentPage(ctx context.Context, name string) error {
	return c.do(ctx, "SetCurrentPage", http.MethodPut, "/current-page", nameRequest{Name: name}, nil)
}

func (c *Client) CreateVisual(ctx context.Context, visualType string, layout session.Layout) (session.VisualHandle, error) {
	var handle session.VisualHandle
	req := createVisualRequest{VisualType: visualType, Layout: layout}
	if err := c.do(ctx, "CreateVisual", http.MethodPost, "/current-page/visuals", req, &handle); err != nil {
		return session.VisualHandle{}, err
	}
	return handle, nil
}

func (c *Client) BindField(ctx context.Context, visual session.VisualHandle, role string, dataField json.RawMessage) error {
	req := bindFieldRequest{VisualType: visual.Type, Role: role, DataField: dataField}
	return c.do(ctx, "BindField", http.MethodPost, "/visuals/"+url.PathEscape(visual.Name)+"/fields", req, nil)
}

func (c *Client) Save(ctx context.Context) error {
	return c.do(ctx, "Save", http.MethodPost, "/save", nil, nil)
}

func (c *Client) SaveAs(ctx context.Context, name string) error {
	return c.do(ctx, "SaveAs", http.MethodPost, "/save-as", nameRequest{Name: name}, nil)
}

// Export streams the exported report. The caller closes the reader.
func (c *Client) Export(ctx context.Context, format string) (io.ReadCloser, string, error) {
	resp, err := c.send(ctx, http.MethodGet, "/export?format="+url.QueryEscape(format), nil)
	if err != nil {
		return nil, "", fmt.Errorf("export request failed: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, "", decodeError("Export", resp)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return resp.Body, contentType, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	// Once sent, a call runs to completion; the HTTP client timeout bounds it.
	endpoint := c.baseURL + "/reports/" + url.PathEscape(c.reportID) + path
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.httpClient.Do(req)
}

func decodeError(op string, resp *http.Response) error {
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Code == "" {
		return session.NewError(session.CodeSession, op, "bridge returned %s", resp.Status)
	}
	return &session.RemoteError{Code: body.Code, Op: op, Message: body.Message}
}
