// Package httprequest provides the http_request step executor.
package httprequest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ledgerflow/conductor/pkg/template"
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 4 << 20
)

// Executor performs one HTTP call per step run. URL, headers and body are
// templates rendered over the step input, so upstream outputs can feed the
// request.
type Executor struct {
	logger  *slog.Logger
	client  *http.Client
	method  string
	url     string
	headers map[string]string
	body    string
}

func newExecutor(config map[string]any, logger *slog.Logger) (*Executor, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http_request step requires a url")
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)
	if raw, ok := config["headers"].(map[string]any); ok {
		for key, value := range raw {
			if s, ok := value.(string); ok {
				headers[key] = s
			}
		}
	}

	timeout := defaultTimeout
	if seconds, ok := config["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}

	return &Executor{
		logger:  logger.With("module", "http_request_step"),
		client:  &http.Client{Timeout: timeout},
		method:  strings.ToUpper(method),
		url:     url,
		headers: headers,
		body:    body,
	}, nil
}

// Execute renders the request, performs it and returns status, headers and
// the decoded body. A 4xx or 5xx status is an error so the resilience layer
// can classify and retry it.
func (e *Executor) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	url, err := template.RenderString(e.url, input)
	if err != nil {
		return nil, fmt.Errorf("failed to render url: %w", err)
	}

	headers, err := template.RenderMap(e.headers, input)
	if err != nil {
		return nil, fmt.Errorf("failed to render headers: %w", err)
	}

	var payload io.Reader

	if e.body != "" {
		body, err := template.RenderString(e.body, input)
		if err != nil {
			return nil, fmt.Errorf("failed to render body: %w", err)
		}

		payload = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, e.method, url, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	e.logger.DebugContext(ctx, "Performing HTTP request", "method", e.method, "url", url)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("http %s %s returned status %d", e.method, url, resp.StatusCode)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     flattenHeaders(resp.Header),
		"body":        decodeBody(raw),
	}, nil
}

// decodeBody returns parsed JSON when the payload is JSON, the raw text
// otherwise.
func decodeBody(raw []byte) any {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			return decoded
		}
	}

	return trimmed
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) > 0 {
			flat[key] = values[0]
		}
	}

	return flat
}
