package pipeline

import (
	"context"
	"errors"
	"net/http"

	"github.com/dunamismax/pixelcache/internal/domain"
)

type Kind string

const (
	KindHit              Kind = "hit"
	KindGenerated        Kind = "generated"
	KindPassThrough      Kind = "pass_through"
	KindInvalidPath      Kind = "invalid_path"
	KindRejected         Kind = "rejected"
	KindNotFound         Kind = "not_found"
	KindUnsupported      Kind = "unsupported_type"
	KindStoreUnavailable Kind = "store_unavailable"
	KindFailed           Kind = "failed"
)

// Result is the outcome of one invocation, independent of how it is
// delivered to the client.
type Result struct {
	Kind         Kind
	Status       int
	Body         []byte
	ContentType  string
	CacheControl string
	// Fresh marks bodies produced by this invocation rather than read from
	// the variant cache. Emitters surface it as Age: 0.
	Fresh   bool
	Message string

	Request   domain.ResizeRequest
	Width     int
	Height    int
	Persisted bool
	// PersistErr is only set when the mode waits for persistence.
	PersistErr error
}

func (r Result) OK() bool {
	return r.Status == http.StatusOK
}

// Headers returns the response headers every emitter sends.
func (r Result) Headers() map[string]string {
	h := map[string]string{"Content-Type": r.ContentType}
	if r.OK() {
		if r.CacheControl != "" {
			h["Cache-Control"] = r.CacheControl
		}
		if r.Fresh {
			h["Age"] = "0"
		}
		return h
	}
	h["Cache-Control"] = domain.ErrorCacheControl
	return h
}

func errorResult(kind Kind, status int, message string) Result {
	return Result{
		Kind:        kind,
		Status:      status,
		Body:        []byte(message),
		ContentType: "text/plain",
		Message:     message,
	}
}

// FailureResult turns an error returned by Process into a response without
// exposing the error text.
func FailureResult(err error) Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return errorResult(KindFailed, http.StatusGatewayTimeout, "Timed out while processing image.")
	}
	return errorResult(KindFailed, http.StatusInternalServerError, "Internal error while processing image.")
}
