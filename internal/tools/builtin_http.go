package tools

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/moonbotio/moonbot/internal/moonerr"
	"github.com/moonbotio/moonbot/internal/policy"
)

const (
	httpFetchMaxRedirects = 3
	httpFetchUserAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type httpRequestInput struct {
	URL         string `json:"url"`
	ExtractMode string `json:"extractMode"`
	MaxChars    int    `json:"maxChars"`
}

// HTTPRequestSchema is the jsonschema/v5 input schema for http.request.
var HTTPRequestSchema = []byte(`{
  "type": "object",
  "properties": {
    "url": {"type": "string"},
    "extractMode": {"type": "string", "enum": ["markdown", "text"]},
    "maxChars": {"type": "integer", "minimum": 100}
  },
  "required": ["url"]
}`)

// NewHTTPRequestTool registers the SSRF-guarded http.request tool (§4.1 SSRF
// guard, scenario 7), grounded on the teacher's web_fetch.go fetch pipeline.
func NewHTTPRequestTool(defaultMaxChars int) *ToolSpec {
	if defaultMaxChars <= 0 {
		defaultMaxChars = 50_000
	}
	cache := newWebCache(defaultCacheMaxEntries, defaultCacheTTL)

	return &ToolSpec{
		ID:               "http.request",
		Description:      "Fetch an HTTP(S) URL with SSRF protection and extract its content as markdown or text.",
		InputSchema:      HTTPRequestSchema,
		RequiresApproval: false,
		Run: func(tc *ToolContext, raw json.RawMessage) (*Result, error) {
			var in httpRequestInput
			if err := json.Unmarshal(raw, &in); err != nil {
				return Err(string(moonerr.InvalidInput), "malformed input"), nil
			}
			if in.ExtractMode == "" {
				in.ExtractMode = "markdown"
			}
			maxChars := defaultMaxChars
			if in.MaxChars >= 100 {
				maxChars = in.MaxChars
			}

			if err := policy.CheckSSRF(in.URL, nil); err != nil {
				me, _ := moonerr.As(err)
				return Err(string(me.Code), me.Message), nil
			}

			cacheKey := fmt.Sprintf("%s:%s:%d", in.URL, in.ExtractMode, maxChars)
			if cached, ok := cache.get(cacheKey); ok {
				return Ok(cached), nil
			}

			text, truncated, err := fetchAndExtract(tc, in.URL, in.ExtractMode, maxChars)
			if err != nil {
				return Err(string(moonerr.Unknown), truncateStr(err.Error(), 4000)), nil
			}

			wrapped := wrapExternalContent(text, "http.request", true)
			cache.set(cacheKey, wrapped)
			return &Result{Data: wrapped, Truncated: truncated}, nil
		},
	}
}

func fetchAndExtract(tc *ToolContext, rawURL, extractMode string, maxChars int) (string, bool, error) {
	req, err := http.NewRequestWithContext(tc.Context, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", httpFetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	redirects := 0
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 15 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirects++
			if redirects > httpFetchMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", httpFetchMaxRedirects)
			}
			return policy.CheckSSRF(req.URL.String(), nil)
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxChars)*4))
	if err != nil {
		return "", false, fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	switch {
	case strings.Contains(contentType, "application/json"):
		text, _ = extractJSON(body)
	case strings.Contains(contentType, "text/html"), strings.Contains(contentType, "application/xhtml"):
		if extractMode == "text" {
			text = htmlToText(string(body))
		} else {
			text = htmlToMarkdown(string(body))
		}
	default:
		text = string(body)
	}

	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}
	return text, truncated, nil
}
