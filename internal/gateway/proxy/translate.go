package proxy

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/printdesk/internal/gateway/backend"
	"github.com/aussiebroadwan/printdesk/internal/gateway/payload"
	"github.com/aussiebroadwan/printdesk/internal/gateway/refresh"
	"github.com/aussiebroadwan/printdesk/pkg/httpx"
)

// Reply is a fully formed outbound response.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// Write sends the reply.
func (r Reply) Write(w http.ResponseWriter) {
	for k, v := range r.Header {
		if k == "Content-Type" {
			continue
		}
		w.Header()[k] = v
	}
	httpx.WriteRaw(w, r.Status, r.Header.Get("Content-Type"), r.Body)
}

// ErrorReply builds {"error": msg} with status.
func ErrorReply(status int, msg string) Reply {
	body, _ := json.Marshal(httpx.ErrorBody{Error: msg})
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return Reply{Status: status, Header: h, Body: body}
}

// Unauthorized is the reply for a request without a usable session.
func Unauthorized() Reply { return ErrorReply(http.StatusUnauthorized, "Unauthorized") }

// Translate turns any failure into the outbound error shape. Structured
// backend errors keep their status and body; 401 and 403 pass through like
// any other status.
func Translate(err error) Reply {
	var be *backend.Error
	var re *refresh.Error

	switch {
	case errors.As(err, &re) && re.Terminal():
		return Unauthorized()

	case errors.As(err, &be) && be.Kind == backend.KindStatus:
		if len(be.Body) > 0 {
			h := make(http.Header)
			h.Set("Content-Type", "application/json")
			return Reply{Status: be.Status, Header: h, Body: be.Body}
		}
		if be.Status >= 400 && be.Status < 500 {
			return ErrorReply(be.Status, be.Message)
		}
		return ErrorReply(http.StatusInternalServerError, be.Message)

	case errors.As(err, &be):
		return ErrorReply(http.StatusInternalServerError, "Backend unavailable")

	case errors.Is(err, payload.ErrTooLarge):
		return ErrorReply(http.StatusRequestEntityTooLarge, "Request body too large")

	case errors.Is(err, payload.ErrMalformed):
		return ErrorReply(http.StatusBadRequest, "Malformed request body")

	default:
		return ErrorReply(http.StatusInternalServerError, "Internal server error")
	}
}
