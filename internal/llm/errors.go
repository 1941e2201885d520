package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedChunk marks a stream payload that could not be parsed.
// The decoder skips such chunks instead of aborting the stream.
var ErrMalformedChunk = errors.New("malformed stream chunk")

// MaxResetSeconds caps the reset hint taken from upstream headers
const MaxResetSeconds = math.MaxInt32

// rateLimitResetHeaders are checked in order for a reset hint on 429
var rateLimitResetHeaders = []string{
	"X-Ratelimit-Reset-Requests",
	"X-Ratelimit-Reset",
	"Retry-After",
	"Anthropic-Ratelimit-Requests-Reset",
}

// APIError is a non-OK upstream response
type APIError struct {
	Provider     string
	StatusCode   int
	Message      string
	ResetSeconds int
	HasReset     bool
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s returned status %d", e.Provider, e.StatusCode)
}

// IsRateLimited reports whether err is an upstream 429
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// NewAPIError builds an APIError from a non-OK response, reading at most 64KB
// of the body for an error message. The caller still owns resp.Body.
func NewAPIError(provider string, resp *http.Response) *APIError {
	apiErr := &APIError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr.Message = errorMessageFromBody(body)

	if resp.StatusCode == http.StatusTooManyRequests {
		apiErr.ResetSeconds, apiErr.HasReset = ParseResetSeconds(resp.Header, time.Now())
	}

	return apiErr
}

// errorMessageFromBody understands {"error":{"message":..}}, {"error":".."}
// and {"message":".."} bodies
func errorMessageFromBody(body []byte) string {
	var parsed struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}

	if len(parsed.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(parsed.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var plain string
		if err := json.Unmarshal(parsed.Error, &plain); err == nil && plain != "" {
			return plain
		}
	}

	return parsed.Message
}

// ParseResetSeconds extracts the rate-limit reset hint from response headers.
// Values may be integer or fractional seconds, Go durations ("6m0s", "250ms")
// or RFC 3339 timestamps; the result is rounded up to whole seconds.
func ParseResetSeconds(h http.Header, now time.Time) (int, bool) {
	for _, name := range rateLimitResetHeaders {
		raw := strings.TrimSpace(h.Get(name))
		if raw == "" {
			continue
		}
		if secs, ok := parseResetValue(raw, now); ok {
			return secs, true
		}
	}
	return 0, false
}

func parseResetValue(raw string, now time.Time) (int, bool) {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return ceilSeconds(f)
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return ceilSeconds(d.Seconds())
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		d := ts.Sub(now)
		if d < 0 {
			return 0, true
		}
		return ceilSeconds(d.Seconds())
	}
	return 0, false
}

// ceilSeconds rounds up and caps at MaxResetSeconds. NaN, infinities and
// negative values are rejected.
func ceilSeconds(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	f = math.Ceil(f)
	if f > MaxResetSeconds {
		return MaxResetSeconds, true
	}
	return int(f), true
}
