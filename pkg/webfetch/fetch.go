// Package webfetch retrieves pages on the local network and reduces them to
// plain markdown-ish text the model can read.
package webfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harunnryd/arturo/pkg/errorsx"
	"github.com/harunnryd/arturo/pkg/httpc"
)

const defaultMaxBytes = 64 << 10

type Config struct {
	Timeout  time.Duration
	MaxBytes int
}

type Fetcher struct {
	http     *http.Client
	maxBytes int
}

func New(cfg Config) *Fetcher {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	return &Fetcher{http: httpc.NewClient(cfg.Timeout), maxBytes: cfg.MaxBytes}
}

// WithHTTPClient swaps the underlying HTTP client.
func (f *Fetcher) WithHTTPClient(h *http.Client) *Fetcher {
	if h != nil {
		f.http = h
	}
	return f
}

// Fetch GETs rawURL and returns its content as text. HTML is converted to
// markdown, JSON is indented and other text is returned as is. Output is
// capped at the configured size.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errorsx.Errorf(errorsx.ReasonFetch, "invalid url %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonFetch)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonFetch)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.maxBytes)*4))
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonFetch)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errorsx.Errorf(errorsx.ReasonFetch, "GET %s: status %d", u.Redacted(), resp.StatusCode)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	var text string
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		text, err = HTMLToMarkdown(bytes.NewReader(body))
		if err != nil {
			return "", errorsx.Wrap(err, errorsx.ReasonFetch)
		}
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var buf bytes.Buffer
		if json.Indent(&buf, body, "", "  ") == nil {
			text = buf.String()
		} else {
			text = string(body)
		}
	case strings.HasPrefix(mediaType, "text/") || mediaType == "":
		text = string(body)
	default:
		return "", errorsx.New(errorsx.ReasonFetch, "unsupported content type "+mediaType)
	}
	return truncate(strings.TrimSpace(text), f.maxBytes), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "\n[truncated]"
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
