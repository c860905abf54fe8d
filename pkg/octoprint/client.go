package octoprint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harunnryd/arturo/pkg/errorsx"
	"github.com/harunnryd/arturo/pkg/httpc"
	"github.com/harunnryd/arturo/pkg/logging"
	"github.com/harunnryd/arturo/pkg/resilience"
)

var ErrNotConfigured = errors.New("octoprint is not configured")

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retries int
}

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Status int
	Body   string
}

func (e StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("octoprint: status %d: %s", e.Status, body)
}

// Client talks to the OctoPrint REST API.
type Client struct {
	cfg   Config
	http  *http.Client
	retry resilience.RetryPolicy
	log   *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if logger == nil {
		logger = logging.Discard()
	}
	retry := resilience.NewRetryPolicy(cfg.Retries, 300*time.Millisecond)
	retry.Retryable = retryable
	return &Client{
		cfg:   cfg,
		http:  httpc.NewClient(cfg.Timeout),
		retry: retry,
		log:   logging.NewComponentLogger(logger, "octoprint"),
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	if h != nil {
		c.http = h
	}
	return c
}

func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && strings.TrimSpace(c.cfg.APIKey) != ""
}

// ListFiles returns the file tree of a storage location ("local" or "sdcard").
func (c *Client) ListFiles(ctx context.Context, location string, recursive bool) (FileList, error) {
	path := "/api/files"
	if loc := strings.TrimSpace(location); loc != "" {
		path += "/" + url.PathEscape(loc)
	}
	q := url.Values{}
	if recursive {
		q.Set("recursive", "true")
	}
	var out FileList
	err := c.get(ctx, path, q, &out)
	return out, err
}

// SlicingProfiles returns the profiles known for a slicer, keyed by profile key.
func (c *Client) SlicingProfiles(ctx context.Context, slicer string) (map[string]SlicingProfile, error) {
	if strings.TrimSpace(slicer) == "" {
		return nil, errors.New("slicer name is required")
	}
	out := map[string]SlicingProfile{}
	err := c.get(ctx, "/api/slicing/"+url.PathEscape(slicer)+"/profiles", nil, &out)
	return out, err
}

// SlicingProfile fetches one profile.
func (c *Client) SlicingProfile(ctx context.Context, slicer, key string) (SlicingProfile, error) {
	var out SlicingProfile
	err := c.get(ctx, "/api/slicing/"+url.PathEscape(slicer)+"/profiles/"+url.PathEscape(key), nil, &out)
	return out, err
}

// Slice asks the server to slice a model stored in its local storage.
func (c *Client) Slice(ctx context.Context, path string, req SliceRequest) error {
	req.Command = "slice"
	return c.post(ctx, "/api/files/local/"+escapePath(path), req, http.StatusAccepted, http.StatusOK)
}

// StartPrint selects a stored file and starts printing it.
func (c *Client) StartPrint(ctx context.Context, path string) error {
	return c.post(ctx, "/api/files/local/"+escapePath(path), selectRequest{Command: "select", Print: true}, http.StatusNoContent, http.StatusOK)
}

// Job returns the current job and its progress.
func (c *Client) Job(ctx context.Context) (JobStatus, error) {
	var out JobStatus
	err := c.get(ctx, "/api/job", nil, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	target := c.cfg.BaseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	return c.retry.DoContext(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		return c.do(req, out, http.StatusOK)
	})
}

// post is not retried; slicing and printing are not idempotent.
func (c *Client) post(ctx context.Context, path string, body any, okStatus ...int) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil, okStatus...)
}

func (c *Client) do(req *http.Request, out any, okStatus ...int) error {
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonOctoPrintRequest)
	}
	defer resp.Body.Close()
	c.log.Debug("octoprint_request", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	if !statusIn(resp.StatusCode, okStatus) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errorsx.Wrap(StatusError{Status: resp.StatusCode, Body: string(body)}, errorsx.ReasonOctoPrintRequest)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errorsx.Errorf(errorsx.ReasonOctoPrintRequest, "decode octoprint response: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se StatusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	return true
}

func statusIn(code int, allowed []int) bool {
	for _, a := range allowed {
		if code == a {
			return true
		}
	}
	return false
}

func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
