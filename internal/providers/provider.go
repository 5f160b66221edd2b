package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/metrics"
)

// DefaultHTTPTimeout applies when a provider has no timeout configured
const DefaultHTTPTimeout = 60 * time.Second

// Limiter gates calls to a capability
type Limiter interface {
	Acquire(ctx context.Context, name string) (func(), error)
}

// StatusError is a non-2xx response from a provider
type StatusError struct {
	Capability string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request: http %d: %s", e.Capability, e.StatusCode, Snippet(e.Body))
}

// Response is a raw provider response
type Response struct {
	Body        []byte
	ContentType string
}

// HTTPClient returns an http.Client with the configured timeout
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

// PostJSON sends payload to endpoint and returns the raw body. The call is
// gated by limiter under capability and transient failures are wrapped in
// domain.RetryableError.
func PostJSON(ctx context.Context, client *http.Client, limiter Limiter, capability, endpoint, apiKey string, payload any) (resp Response, err error) {
	defer func() { metrics.ObserveCall(capability, err) }()

	if limiter != nil {
		release, err := limiter.Acquire(ctx, capability)
		if err != nil {
			return Response{}, err
		}
		defer release()
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("%s request: encode body: %w", capability, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return Response{}, fmt.Errorf("%s request: new request: %w", capability, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	httpResp, err := client.Do(req)
	if err != nil {
		err = fmt.Errorf("%s request: http error: %w", capability, err)
		if ctx.Err() != nil {
			return Response{}, err
		}
		return Response{}, Classify(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, Classify(fmt.Errorf("%s request: read body: %w", capability, err))
	}

	if httpResp.StatusCode >= http.StatusMultipleChoices {
		return Response{}, Classify(&StatusError{
			Capability: capability,
			StatusCode: httpResp.StatusCode,
			Body:       string(body),
		})
	}

	return Response{Body: body, ContentType: httpResp.Header.Get("Content-Type")}, nil
}

// Classify wraps err in domain.RetryableError when another attempt could help:
// 408, 429, 5xx, network errors and client timeouts. Cancellation is never
// retried.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewRetryableError(err)
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			return domain.NewRetryableError(err)
		default:
			return err
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.NewRetryableError(err)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return domain.NewRetryableError(err)
	}
	return err
}

// DecodeJSON decodes a model's JSON output, tolerating code fences and prose
// around the object.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	sanitized := sanitizeJSON(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, Snippet(trimmed))
	}
	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return fmt.Errorf("%w (sanitized payload snippet: %s)", err, Snippet(sanitized))
	}
	return nil
}

func sanitizeJSON(content string) string {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

// Snippet collapses whitespace and truncates content for log and error output
func Snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
