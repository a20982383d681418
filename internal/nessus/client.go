package nessus

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Options struct {
	BaseURL            string
	AccessKey          string
	SecretKey          string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Client talks to the Nessus REST API using a static API key pair.
type Client struct {
	baseURL    string
	apiKeys    string
	httpClient *http.Client
}

func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKeys: fmt.Sprintf("accessKey=%s; secretKey=%s", opts.AccessKey, opts.SecretKey),
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
	}
}

func (c *Client) ListScans(ctx context.Context) ([]ScanSummary, error) {
	raw, err := c.do(ctx, "list scans", http.MethodGet, "/scans", nil)
	if err != nil {
		return nil, err
	}

	var resp scanListResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode scan list: %w", err)
	}
	return resp.Scans, nil
}

// RequestExport starts an export of scanID and returns the file id to poll.
func (c *Client) RequestExport(ctx context.Context, scanID int, format string) (int, error) {
	path := fmt.Sprintf("/scans/%d/export", scanID)
	raw, err := c.do(ctx, "request export", http.MethodPost, path, exportRequest{Format: format})
	if err != nil {
		return 0, err
	}

	var resp exportResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("failed to decode export response: %w", err)
	}
	return resp.File, nil
}

func (c *Client) ExportStatus(ctx context.Context, scanID, fileID int) (ExportStatus, error) {
	path := fmt.Sprintf("/scans/%d/export/%d/status", scanID, fileID)
	raw, err := c.do(ctx, "export status", http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}

	var resp exportStatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("failed to decode export status: %w", err)
	}
	return resp.Status, nil
}

func (c *Client) DownloadExport(ctx context.Context, scanID, fileID int) ([]byte, error) {
	path := fmt.Sprintf("/scans/%d/export/%d/download", scanID, fileID)
	return c.do(ctx, "download export", http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("X-ApiKeys", c.apiKeys)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}
