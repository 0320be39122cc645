package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/printdesk/internal/gateway/audit"
	"github.com/aussiebroadwan/printdesk/internal/gateway/backend"
	"github.com/aussiebroadwan/printdesk/internal/gateway/credential"
	"github.com/aussiebroadwan/printdesk/internal/gateway/payload"
	"github.com/aussiebroadwan/printdesk/internal/gateway/proxy"
	"github.com/aussiebroadwan/printdesk/internal/gateway/session"
	"github.com/aussiebroadwan/printdesk/pkg/cryptox"
	"github.com/aussiebroadwan/printdesk/pkg/httpx"
	"github.com/aussiebroadwan/printdesk/pkg/jwtx"
	"github.com/aussiebroadwan/printdesk/pkg/slogx"
)

// LoginResponse is the body of a successful login. Credentials only travel
// as cookies.
type LoginResponse struct {
	User *backend.User `json:"user"`
}

// LogoutResponse is the body of every logout.
type LogoutResponse struct {
	Success bool `json:"success"`
}

// SessionResponse describes the signed-in user.
type SessionResponse struct {
	User jwtx.Identity `json:"user"`
}

// AuthHandler serves login, logout and session introspection.
type AuthHandler struct {
	Backend interface {
		Login(ctx context.Context, credentials *payload.Snapshot) (*backend.Tokens, error)
		Logout(ctx context.Context, accessToken, refreshToken string) error
	}
	Sessions *session.Issuer
	Policy   credential.Policy
	Cloner   payload.Cloner
	Audit    audit.Recorder
}

// HandleLogin exchanges the browser's credentials for a credential pair
// and stores it, with a fresh session descriptor, as cookies.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	store := credential.NewCookieStore(w, r, h.Policy.Attributes(0))

	body, err := h.Cloner.Snapshot(r)
	if err != nil {
		proxy.Translate(err).Write(w)
		return
	}
	if body.Kind() != payload.KindJSON {
		httpx.WriteError(w, http.StatusBadRequest, "Expected a JSON body")
		return
	}

	tokens, err := h.Backend.Login(ctx, body)
	if err != nil {
		var be *backend.Error
		ev := audit.Event{Type: audit.EventLoginFailed}
		if errors.As(err, &be) {
			ev.Status = be.Status
		}
		h.emit(r, ev)

		log.Info("login failed", "error", err)
		proxy.Translate(err).Write(w)
		return
	}

	h.Policy.SetAccess(store, tokens.AccessToken)
	h.Policy.SetRefresh(store, tokens.RefreshToken)

	ev := audit.Event{
		Type:        audit.EventLogin,
		Fingerprint: cryptox.FingerprintToken(tokens.RefreshToken),
		Status:      http.StatusOK,
	}
	if tokens.User != nil {
		id := tokens.User.Identity()
		ev.UserID, ev.TenantID = id.UserID, id.TenantID

		if err := h.Sessions.Issue(store, id); err != nil {
			log.Error("failed to issue session descriptor", "error", err)
		}
	} else if _, ok := h.Policy.Session(store); ok {
		// A descriptor from an earlier login would name the wrong user.
		store.Clear(h.Policy.Names.Session)
	}
	h.emit(r, ev)

	log.Info("user logged in", "user_id", ev.UserID, "tenant_id", ev.TenantID)
	httpx.WriteJSON(w, http.StatusOK, LoginResponse{User: tokens.User})
}

// HandleLogout revokes the session on the backend when it can and always
// clears the browser's credentials.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	store := credential.NewCookieStore(w, r, h.Policy.Attributes(0))

	access, _ := h.Policy.Access(store)
	refreshToken, hasRefresh := h.Policy.Refresh(store)

	if access != "" || hasRefresh {
		if err := h.Backend.Logout(ctx, access, refreshToken); err != nil {
			log.Warn("backend logout failed", "error", err)
		}
	}

	ev := audit.Event{Type: audit.EventLogout, Status: http.StatusOK}
	if hasRefresh {
		ev.Fingerprint = cryptox.FingerprintToken(refreshToken)
	}
	if id, err := h.Sessions.Current(store); err == nil {
		ev.UserID, ev.TenantID = id.UserID, id.TenantID
	}
	h.emit(r, ev)

	h.Policy.ClearAll(store)
	httpx.WriteJSON(w, http.StatusOK, LogoutResponse{Success: true})
}

// HandleSession returns the identity in a valid session descriptor.
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	store := credential.NewCookieStore(w, r, h.Policy.Attributes(0))

	id, err := h.Sessions.Current(store)
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			slogx.FromContext(r.Context()).Debug("session descriptor rejected", "error", err)
		}
		httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, SessionResponse{User: id})
}

func (h *AuthHandler) emit(r *http.Request, ev audit.Event) {
	ev.RemoteAddr = httpx.IPKeyExtractor(r)
	ev.RequestID = r.Header.Get(slogx.RequestIDHeader)
	audit.Emit(r.Context(), h.Audit, ev)
}
