// Package proxy forwards browser requests to the backend with the access
// credential attached, refreshing the credential at most once per request.
package proxy

import (
	"context"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/printdesk/internal/gateway/backend"
	"github.com/aussiebroadwan/printdesk/internal/gateway/credential"
	"github.com/aussiebroadwan/printdesk/internal/gateway/payload"
	"github.com/aussiebroadwan/printdesk/internal/gateway/refresh"
	"github.com/aussiebroadwan/printdesk/internal/gateway/routes"
	"github.com/aussiebroadwan/printdesk/pkg/slogx"
)

// Outcome names how a proxied request ended.
type Outcome string

const (
	OutcomeNoAccessToken      Outcome = "no_access_token"
	OutcomeInvalidRequest     Outcome = "invalid_request"
	OutcomeForwarded          Outcome = "forwarded"
	OutcomeUpstreamError      Outcome = "upstream_error"
	OutcomeRetried            Outcome = "retried"
	OutcomeRetryFailed        Outcome = "retry_failed"
	OutcomeRefreshFailed      Outcome = "refresh_failed"
	OutcomeRefreshUnavailable Outcome = "refresh_unavailable"
)

// Caller performs one backend call.
type Caller interface {
	Call(ctx context.Context, req backend.Request, accessToken string) (*backend.Response, error)
}

// Refresher exchanges the refresh credential held in a store.
type Refresher interface {
	Refresh(ctx context.Context, store credential.Store) (refresh.Result, error)
}

// Observer counts outcomes.
type Observer interface {
	ProxyOutcome(route, outcome string)
}

// Handler proxies one route.
type Handler struct {
	Route     routes.Route
	Backend   Caller
	Refresher Refresher
	Policy    credential.Policy
	Cloner    payload.Cloner
	Metrics   Observer
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := slogx.With(r.Context(), "route", h.Route.Name)
	store := credential.NewCookieStore(w, r, h.Policy.Attributes(0))

	var (
		reply   Reply
		outcome Outcome
	)
	body, err := h.Cloner.Snapshot(r)
	if err != nil {
		reply, outcome = Translate(err), OutcomeInvalidRequest
	} else {
		reply, outcome = h.Execute(ctx, store, h.pending(r, body))
	}

	if h.Metrics != nil {
		h.Metrics.ProxyOutcome(h.Route.Name, string(outcome))
	}
	slogx.FromContext(ctx).Debug("proxied request", "outcome", outcome, "status", reply.Status)

	reply.Write(w)
}

// pending builds the outbound request from the inbound one.
func (h *Handler) pending(r *http.Request, body *payload.Snapshot) backend.Request {
	method := h.Route.UpstreamMethod
	if method == "" {
		method = r.Method
	}
	return backend.Request{
		Method: method,
		Path:   h.Route.Expand(r.PathValue),
		Query:  r.URL.Query(),
		Header: r.Header,
		Body:   body,
	}
}

// Execute runs the retry-once protocol for req against the credentials in
// store:
//
//  1. no access credential: 401, the backend is not called
//  2. first attempt; anything but 401 is final
//  3. one refresh; a terminal failure clears every credential and yields 401
//  4. second attempt with the new access credential; its answer is final,
//     even another 401
func (h *Handler) Execute(ctx context.Context, store credential.Store, req backend.Request) (Reply, Outcome) {
	log := slogx.FromContext(ctx)

	access, ok := h.Policy.Access(store)
	if !ok {
		return Unauthorized(), OutcomeNoAccessToken
	}

	resp, err := h.Backend.Call(ctx, req, access)
	if !unauthorized(err) {
		if err != nil {
			return Translate(err), OutcomeUpstreamError
		}
		return forward(resp), OutcomeForwarded
	}

	log.Debug("access credential rejected, refreshing")

	res, err := h.Refresher.Refresh(ctx, store)
	if err != nil {
		var re *refresh.Error
		if errors.As(err, &re) && !re.Terminal() {
			return Translate(err), OutcomeRefreshUnavailable
		}
		h.Policy.ClearAll(store)
		log.Info("session ended, refresh failed", "error", err)
		return Unauthorized(), OutcomeRefreshFailed
	}

	resp, err = h.Backend.Call(ctx, req, res.AccessToken)
	if err != nil {
		return Translate(err), OutcomeRetryFailed
	}
	return forward(resp), OutcomeRetried
}

func unauthorized(err error) bool {
	var be *backend.Error
	return errors.As(err, &be) && be.Unauthorized()
}

func forward(resp *backend.Response) Reply {
	return Reply{Status: resp.Status, Header: resp.Header, Body: resp.Body}
}
