// Package backend is the authenticated REST client for the admin backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/metrics"
	"github.com/tkingovr/adminsync/internal/session"
)

// Options configures a Client.
type Options struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
	UploadPath   string
	AssetBaseURL string
	Session      session.Provider
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Client issues list, summary, mutation, and upload calls. Every call
// carries the API key header and the session bearer token.
type Client struct {
	baseURL      string
	apiKey       string
	apiKeyHeader string
	uploadPath   string
	assetBaseURL string
	session      session.Provider
	httpClient   *http.Client
	logger       *slog.Logger
}

// New constructs a client. A zero timeout leaves the http.Client's
// timeout untouched.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if opts.Timeout > 0 {
		clone := *hc
		clone.Timeout = opts.Timeout
		hc = &clone
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	header := opts.APIKeyHeader
	if header == "" {
		header = "x-api-key"
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		apiKeyHeader: header,
		uploadPath:   firstNonEmpty(opts.UploadPath, "/upload"),
		assetBaseURL: opts.AssetBaseURL,
		session:      opts.Session,
		httpClient:   hc,
		logger:       logger,
	}
}

// ListRequest describes one list read.
type ListRequest struct {
	Path          string
	Params        api.QueryParams
	PageSizeParam string
	ItemsKey      string
	// Counters are extracted from the response body when present.
	Counters []string
	// All omits the page parameters so the server returns every item.
	All bool
}

// ListResult is a parsed list response. Total and Pages are -1 and 0
// when the server did not report them.
type ListResult struct {
	Items    []api.Resource
	Total    int
	Pages    int
	Counters api.CounterSnapshot
}

// MutationResult is a parsed create/update/delete response.
type MutationResult struct {
	Message string
	Item    *api.Resource
}

// UploadFile is one file to send to the upload endpoint.
type UploadFile struct {
	Name    string
	Content io.Reader
}

// List performs one authenticated GET against a list endpoint.
func (c *Client) List(ctx context.Context, req ListRequest) (*ListResult, error) {
	const op = "list"
	q := url.Values{}
	p := req.Params
	if !req.All {
		q.Set("page", strconv.Itoa(max(p.Page, 1)))
		q.Set(firstNonEmpty(req.PageSizeParam, "page_size"), strconv.Itoa(p.PageSize))
	}
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	if s := p.StatusFilter(); s != "" {
		q.Set("status", s)
	}
	for k, v := range p.Filters {
		if v != "" && v != api.StatusAll {
			q.Set(k, v)
		}
	}
	if p.SortBy != "" {
		q.Set("sort_by", p.SortBy)
		if p.SortDir != "" {
			q.Set("sort_dir", p.SortDir)
		}
	}

	body, err := c.do(ctx, op, http.MethodGet, c.resolvePath(req.Path), q, nil, "")
	if err != nil {
		return nil, err
	}
	return parseList(op, body, firstNonEmpty(req.ItemsKey, "data"), req.Counters)
}

// Summary reads counter values from a summary endpoint.
func (c *Client) Summary(ctx context.Context, summaryPath string, keys []string) (api.CounterSnapshot, error) {
	const op = "summary"
	body, err := c.do(ctx, op, http.MethodGet, c.resolvePath(summaryPath), nil, nil, "")
	if err != nil {
		return nil, err
	}
	snap := extractCounters(body, keys)
	if len(snap) != len(keys) {
		return nil, &api.Error{Kind: api.KindSemantic, Op: op, Message: "summary response is missing counters"}
	}
	return snap, nil
}

// Create POSTs a new item. The backend assigns its identifier.
func (c *Client) Create(ctx context.Context, resourcePath string, payload map[string]any) (*MutationResult, error) {
	return c.mutate(ctx, "create", http.MethodPost, c.resolvePath(resourcePath), payload)
}

// Update PUTs payload to an existing item.
func (c *Client) Update(ctx context.Context, resourcePath, id string, payload map[string]any) (*MutationResult, error) {
	return c.mutate(ctx, "update", http.MethodPut, c.itemURL(resourcePath, id), payload)
}

// Delete removes an item.
func (c *Client) Delete(ctx context.Context, resourcePath, id string) (*MutationResult, error) {
	return c.mutate(ctx, "delete", http.MethodDelete, c.itemURL(resourcePath, id), nil)
}

// Upload sends files as multipart form data under the "files" field and
// returns the stored server-relative paths.
func (c *Client) Upload(ctx context.Context, files []UploadFile) ([]string, error) {
	const op = "upload"
	if len(files) == 0 {
		return nil, api.Validation(op, "no files selected")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile("files", path.Base(f.Name))
		if err != nil {
			return nil, fmt.Errorf("upload: %w", err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, fmt.Errorf("upload: reading %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	body, err := c.do(ctx, op, http.MethodPost, c.resolvePath(c.uploadPath), nil, &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	paths := extractPaths(body)
	if len(paths) == 0 {
		return nil, &api.Error{Kind: api.KindSemantic, Op: op, Message: firstNonEmpty(body.message(), "upload returned no files")}
	}
	return paths, nil
}

// AssetURL prefixes a stored path with the asset base URL.
func (c *Client) AssetURL(p string) string {
	if c.assetBaseURL == "" || strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	return strings.TrimRight(c.assetBaseURL, "/") + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) mutate(ctx context.Context, op, method, endpoint string, payload map[string]any) (*MutationResult, error) {
	var reader io.Reader
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal payload: %w", op, err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}
	body, err := c.do(ctx, op, method, endpoint, nil, reader, contentType)
	if err != nil {
		return nil, err
	}
	res := &MutationResult{Message: body.message()}
	if raw, ok := body["data"]; ok {
		var item api.Resource
		if json.Unmarshal(raw, &item) == nil && item.ID != "" {
			res.Item = &item
		}
	}
	return res, nil
}

// do sends one request and returns the decoded envelope. It fails with
// KindUnauthenticated before touching the network when no token exists.
func (c *Client) do(ctx context.Context, op, method, endpoint string, query url.Values, body io.Reader, contentType string) (envelope, error) {
	if c.baseURL == "" {
		return nil, &api.Error{Kind: api.KindTransport, Op: op, Message: "backend base URL not configured"}
	}
	var token string
	if c.session != nil {
		token, _ = c.session.Token()
	}
	if token == "" {
		return nil, api.Unauthenticated(op)
	}

	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &api.Error{Kind: api.KindTransport, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	env, err := c.roundTrip(op, req)
	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil:
	case api.IsCanceled(err):
		outcome = metrics.OutcomeCanceled
	default:
		outcome = metrics.OutcomeError
	}
	metrics.ObserveBackendRequest(op, time.Since(start), outcome)
	if err != nil && outcome == metrics.OutcomeError {
		c.logger.Debug("backend request failed", "op", op, "method", method, "url", req.URL.Path, "error", err)
	}
	return env, err
}

func (c *Client) roundTrip(op string, req *http.Request) (envelope, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			err = errors.Join(ctxErr, err)
		}
		return nil, &api.Error{Kind: api.KindTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &api.Error{Kind: api.KindTransport, Op: op, Status: resp.StatusCode, Err: err}
	}
	env, decodeErr := decodeEnvelope(data)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &api.Error{Kind: api.KindTransport, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("backend returned %s", resp.Status)}
		if decodeErr == nil {
			e.Message = env.message()
		}
		return nil, e
	}
	if decodeErr != nil {
		return nil, &api.Error{Kind: api.KindSemantic, Op: op, Status: resp.StatusCode, Err: decodeErr}
	}
	if !env.succeeded() {
		return nil, &api.Error{Kind: api.KindSemantic, Op: op, Status: resp.StatusCode, Message: env.message(), Err: errors.New("success marker absent or false")}
	}
	return env, nil
}

func (c *Client) itemURL(resourcePath, id string) string {
	return c.resolvePath(path.Join("/", resourcePath, id))
}

func (c *Client) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
