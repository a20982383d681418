package dojo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const apiPrefix = "/api/v2"

var ErrNotAuthenticated = errors.New("client is not authenticated")

// Client is a DefectDojo API v2 client. Authenticate must succeed before
// any other call.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Authenticate exchanges username and password for an API token.
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	raw, err := c.doJSON(ctx, "authenticate", http.MethodPost, c.endpoint("/api-token-auth/", nil),
		tokenRequest{Username: username, Password: password})
	if err != nil {
		return err
	}

	var resp tokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("authenticate: empty token in response")
	}
	c.token = resp.Token
	return nil
}

// ListProducts returns every product whose name matches the server-side
// name filter. An empty name lists all products.
func (c *Client) ListProducts(ctx context.Context, name string) ([]Product, error) {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	return listAll[Product](ctx, c, "list products", c.endpoint("/products/", q))
}

func (c *Client) CreateProduct(ctx context.Context, p Product) (*Product, error) {
	raw, err := c.doJSON(ctx, "create product", http.MethodPost, c.endpoint("/products/", nil), p)
	if err != nil {
		return nil, err
	}
	var created Product
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, fmt.Errorf("failed to decode product: %w", err)
	}
	return &created, nil
}

func (c *Client) ListEngagements(ctx context.Context, productID int, name string) ([]Engagement, error) {
	q := url.Values{}
	q.Set("product", strconv.Itoa(productID))
	if name != "" {
		q.Set("name", name)
	}
	return listAll[Engagement](ctx, c, "list engagements", c.endpoint("/engagements/", q))
}

func (c *Client) CreateEngagement(ctx context.Context, e Engagement) (*Engagement, error) {
	raw, err := c.doJSON(ctx, "create engagement", http.MethodPost, c.endpoint("/engagements/", nil), e)
	if err != nil {
		return nil, err
	}
	var created Engagement
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, fmt.Errorf("failed to decode engagement: %w", err)
	}
	return &created, nil
}

// ImportScan uploads a report as a new test under an engagement. The report
// file is always closed before ImportScan returns.
func (c *Client) ImportScan(ctx context.Context, opts ImportOptions) (*ImportResult, error) {
	f, err := os.Open(opts.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	done := make(chan struct{})

	go func() {
		defer close(done)
		pw.CloseWithError(writeImportForm(form, opts, f))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/import-scan/", nil), pr)
	if err != nil {
		pr.Close()
		<-done
		return nil, fmt.Errorf("failed to create import request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	raw, err := c.send(req, "import scan")
	pr.Close()
	<-done
	if err != nil {
		return nil, err
	}

	var result ImportResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode import response: %w", err)
	}
	return &result, nil
}

func writeImportForm(form *multipart.Writer, opts ImportOptions, file io.Reader) error {
	fields := [][2]string{
		{"engagement", strconv.Itoa(opts.EngagementID)},
		{"scan_type", opts.ScanType},
		{"active", strconv.FormatBool(opts.Active)},
		{"verified", strconv.FormatBool(opts.Verified)},
		{"close_old_findings", strconv.FormatBool(opts.CloseOldFindings)},
		{"skip_duplicates", strconv.FormatBool(opts.SkipDuplicates)},
	}
	for _, kv := range fields {
		if err := form.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}

	part, err := form.CreateFormFile("file", filepath.Base(opts.FilePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return form.Close()
}

func listAll[T any](ctx context.Context, c *Client, op, next string) ([]T, error) {
	var all []T
	for next != "" {
		raw, err := c.doJSON(ctx, op, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		var p page[T]
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s response: %w", op, err)
		}
		all = append(all, p.Results...)
		if next, err = c.resolveNext(p.Next); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return all, nil
}

// resolveNext keeps only the path and query of a pagination link and
// joins them to the configured base URL, so the token never follows a
// link to another host.
func (c *Client) resolveNext(next string) (string, error) {
	if next == "" {
		return "", nil
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("invalid next link %q: %w", next, err)
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", c.baseURL, err)
	}
	return base.ResolveReference(&url.URL{Path: ref.Path, RawPath: ref.RawPath, RawQuery: ref.RawQuery}).String(), nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := c.baseURL + apiPrefix + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) doJSON(ctx context.Context, op, method, target string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, op)
}

func (c *Client) send(req *http.Request, op string) ([]byte, error) {
	if op != "authenticate" {
		if c.token == "" {
			return nil, fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
		}
		req.Header.Set("Authorization", "Token "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}
