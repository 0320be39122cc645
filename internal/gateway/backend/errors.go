package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind tags a backend failure.
type Kind int

const (
	// KindNetwork means the backend could not be reached or did not answer
	// in time. It never means the credential was rejected.
	KindNetwork Kind = iota + 1

	// KindStatus means the backend answered with a failure status.
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Error is the single failure shape of every backend call.
type Error struct {
	Kind Kind

	// Status is the upstream status code. Zero for network failures.
	Status int

	// Body is the upstream error document when it was valid JSON.
	Body json.RawMessage

	// Message is a short description safe to show to a browser.
	Message string

	// Err is the underlying transport error, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Kind == KindNetwork {
		return fmt.Sprintf("backend: network: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("backend: status %d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Unauthorized reports whether the backend rejected the access credential.
func (e *Error) Unauthorized() bool {
	return e.Kind == KindStatus && e.Status == http.StatusUnauthorized
}

func networkError(err error) *Error {
	return &Error{Kind: KindNetwork, Message: "Backend unavailable", Err: err}
}

// statusError builds the failure for a non-success response. A JSON body is
// kept verbatim; the message is lifted from its "error" or "message" field
// when there is one.
func statusError(status int, body []byte) *Error {
	e := &Error{Kind: KindStatus, Status: status, Message: http.StatusText(status)}
	if e.Message == "" {
		e.Message = fmt.Sprintf("HTTP %d", status)
	}

	if len(body) == 0 || !json.Valid(body) {
		return e
	}
	e.Body = json.RawMessage(body)

	var doc struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &doc); err == nil {
		if s, ok := doc.Error.(string); ok && s != "" {
			e.Message = s
		} else if doc.Message != "" {
			e.Message = doc.Message
		}
	}
	return e
}
