package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fractary/faber/internal/definition"
)

// MaxResponseSize caps http-variant response bodies (10 MiB).
const MaxResponseSize = 10 * 1024 * 1024

// executeHTTP substitutes parameters into the URL, header and body
// templates, validates the URL against the SSRF rules, and issues the
// request. The response body is parsed as JSON when possible, otherwise
// returned as text truncated to MaxResponseSize.
func (e *Executor) executeHTTP(ctx context.Context, tool *definition.Tool, params map[string]any) (map[string]any, error) {
	impl := tool.Implementation

	rawURL, err := substituteToken(impl.URL, params)
	if err != nil {
		return nil, err
	}
	if err := validateURL(ctx, rawURL); err != nil {
		return nil, err
	}

	var body io.Reader
	if impl.Body != "" {
		rendered, err := substituteToken(impl.Body, params)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, impl.Method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for name, tmpl := range impl.Headers {
		value, err := substituteToken(tmpl, params)
		if err != nil {
			return nil, err
		}
		req.Header.Set(name, value)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response too large: %d bytes exceeds %d byte limit", resp.ContentLength, MaxResponseSize)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		parsed = string(data)
	}

	status := "success"
	if resp.StatusCode >= 400 {
		status = "failure"
	}
	return map[string]any{
		"status":      status,
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        parsed,
	}, nil
}
