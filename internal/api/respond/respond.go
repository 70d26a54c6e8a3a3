// Package respond writes the API's JSON responses: cached read models
// (schedule preview, pending executions), uncached results, and the error
// envelope.
package respond

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/albapepper/race-alerts/internal/cache"
)

// Code is a machine-readable API error code.
type Code string

const (
	CodeInvalidLimit      Code = "INVALID_LIMIT"
	CodeReadFailed        Code = "READ_FAILED"
	CodePayloadTooLarge   Code = "PAYLOAD_TOO_LARGE"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeNotAvailable      Code = "NOT_AVAILABLE"
	CodeSourceUnavailable Code = "SOURCE_UNAVAILABLE"
	CodeDBUnavailable     Code = "DB_UNAVAILABLE"
)

// ErrorResponse is the body of API errors. Dispatch outcomes are not errors
// here: they keep the {statusCode, body} shape whatever the status.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// APIError describes one failed request.
type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Error writes an error envelope. An empty detail is omitted.
func Error(w http.ResponseWriter, status int, code Code, message, detail string) {
	w.Header().Set("Cache-Control", "no-store")
	JSON(w, status, ErrorResponse{Error: APIError{Code: code, Message: message, Detail: detail}})
}

// JSON writes v with status and no caching headers.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if w.Header().Get("Cache-Control") == "" {
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Snapshot serves a cached read model. A request whose If-None-Match names
// the snapshot's ETag gets 304. Clients may reuse the body only until the
// cache entry expires, since eligibility decisions move with the clock.
func Snapshot(w http.ResponseWriter, r *http.Request, s cache.Snapshot) {
	w.Header().Set("ETag", s.ETag)
	w.Header().Set("Vary", "Accept-Encoding")
	w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", maxAge(s.Expires)))
	if s.Hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}

	if matchesETag(r.Header.Get("If-None-Match"), s.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(s.Data)
}

func maxAge(expires time.Time) int {
	if expires.IsZero() {
		return 0
	}
	return max(int(time.Until(expires).Seconds()), 0)
}

// matchesETag reports whether an If-None-Match header (a single tag, a
// comma-separated list, or "*") covers etag.
func matchesETag(ifNoneMatch, etag string) bool {
	switch ifNoneMatch {
	case "":
		return false
	case "*":
		return true
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		if strings.TrimSpace(candidate) == etag {
			return true
		}
	}
	return false
}
