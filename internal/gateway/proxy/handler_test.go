package proxy_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/printdesk/internal/gateway/backend"
	"github.com/aussiebroadwan/printdesk/internal/gateway/credential"
	"github.com/aussiebroadwan/printdesk/internal/gateway/proxy"
	"github.com/aussiebroadwan/printdesk/internal/gateway/refresh"
	"github.com/aussiebroadwan/printdesk/internal/gateway/routes"
	"github.com/stretchr/testify/require"
)

// upstream is a fake backend. Resource calls succeed only with a token in
// valid; /auth/refresh answers with refreshStatus and refreshBody.
type upstream struct {
	mu            sync.Mutex
	valid         map[string]bool
	resource      http.HandlerFunc
	refreshStatus int
	refreshBody   string
	bodies        [][]byte
	contentTypes  []string

	resourceCalls atomic.Int32
	refreshCalls  atomic.Int32
}

func newUpstream(t *testing.T) (*upstream, *backend.Client) {
	u := &upstream{
		valid:         map[string]bool{"good": true},
		refreshStatus: http.StatusOK,
		refreshBody:   `{"accessToken":"new1"}`,
	}
	u.resource = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"abc"}`)
	}

	srv := httptest.NewServer(u)
	t.Cleanup(srv.Close)

	c, err := backend.NewClient(srv.URL, 2*time.Second)
	require.NoError(t, err)
	return u, c
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == backend.RefreshPath {
		u.refreshCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(u.refreshStatus)
		_, _ = io.WriteString(w, u.refreshBody)
		return
	}

	u.resourceCalls.Add(1)
	body, _ := io.ReadAll(r.Body)

	u.mu.Lock()
	u.bodies = append(u.bodies, body)
	u.contentTypes = append(u.contentTypes, r.Header.Get("Content-Type"))
	ok := u.valid[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	u.mu.Unlock()

	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"Token expired"}`)
		return
	}
	u.resource(w, r)
}

func (u *upstream) accept(token string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.valid[token] = true
}

func testPolicy() credential.Policy {
	return credential.Policy{
		Names:      credential.DefaultNames(),
		Secure:     true,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}
}

func newHandler(c *backend.Client) *proxy.Handler {
	policy := testPolicy()
	return &proxy.Handler{
		Route:     routes.Route{Name: "devices.get", Method: http.MethodGet, Pattern: "/api/devices/{id}", Upstream: "/devices/{id}"},
		Backend:   c,
		Refresher: refresh.New(c, policy),
		Policy:    policy,
	}
}

func getDevice() backend.Request {
	return backend.Request{Method: http.MethodGet, Path: "/devices/abc"}
}

func store(access, refreshTok string) *credential.MemoryStore {
	initial := map[string]string{"session": "descriptor"}
	if access != "" {
		initial["access_token"] = access
	}
	if refreshTok != "" {
		initial["refresh_token"] = refreshTok
	}
	return credential.NewMemoryStore(initial)
}

func requireCleared(t *testing.T, s *credential.MemoryStore) {
	t.Helper()
	for _, name := range []string{"access_token", "refresh_token", "session"} {
		_, ok := s.Get(name)
		require.False(t, ok, "%s should be cleared", name)
	}
}

func TestValidCredentialForwardsOnce(t *testing.T) {
	up, c := newUpstream(t)
	h := newHandler(c)
	s := store("good", "r1")

	reply, outcome := h.Execute(t.Context(), s, getDevice())

	require.Equal(t, proxy.OutcomeForwarded, outcome)
	require.Equal(t, http.StatusOK, reply.Status)
	require.JSONEq(t, `{"id":"abc"}`, string(reply.Body))
	require.EqualValues(t, 1, up.resourceCalls.Load())
	require.Zero(t, up.refreshCalls.Load())
	require.Zero(t, s.Mutations(), "no cookies mutated")
}

func TestExpiredCredentialRefreshesAndRetries(t *testing.T) {
	up, c := newUpstream(t)
	up.accept("new1")
	h := newHandler(c)
	s := store("expired", "r1")

	reply, outcome := h.Execute(t.Context(), s, getDevice())

	require.Equal(t, proxy.OutcomeRetried, outcome)
	require.Equal(t, http.StatusOK, reply.Status)
	require.JSONEq(t, `{"id":"abc"}`, string(reply.Body))

	access, _ := s.Get("access_token")
	require.Equal(t, "new1", access)
	refreshTok, _ := s.Get("refresh_token")
	require.Equal(t, "r1", refreshTok, "not rotated")

	require.EqualValues(t, 2, up.resourceCalls.Load())
	require.EqualValues(t, 1, up.refreshCalls.Load())
}

func TestRejectedRefreshClearsSession(t *testing.T) {
	up, c := newUpstream(t)
	up.refreshStatus = http.StatusUnauthorized
	up.refreshBody = `{"error":"Invalid refresh token"}`
	h := newHandler(c)
	s := store("expired", "bad")

	reply, outcome := h.Execute(t.Context(), s, getDevice())

	require.Equal(t, proxy.OutcomeRefreshFailed, outcome)
	require.Equal(t, http.StatusUnauthorized, reply.Status)
	require.JSONEq(t, `{"error":"Unauthorized"}`, string(reply.Body))
	requireCleared(t, s)
	require.EqualValues(t, 1, up.resourceCalls.Load(), "original call is not retried")
	require.EqualValues(t, 1, up.refreshCalls.Load())
}

func TestBusinessErrorIsForwarded(t *testing.T) {
	up, c := newUpstream(t)
	up.resource = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"Not found"}`)
	}
	h := newHandler(c)
	s := store("good", "r1")

	reply, outcome := h.Execute(t.Context(), s, getDevice())

	require.Equal(t, proxy.OutcomeUpstreamError, outcome)
	require.Equal(t, http.StatusNotFound, reply.Status)
	require.JSONEq(t, `{"error":"Not found"}`, string(reply.Body))
	require.Zero(t, up.refreshCalls.Load())
	require.Zero(t, s.Mutations())
}

func TestForbiddenNeverRefreshes(t *testing.T) {
	up, c := newUpstream(t)
	up.resource = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":"Forbidden","data":{"policy":"tenant-admin"}}`)
	}
	h := newHandler(c)

	reply, _ := h.Execute(t.Context(), store("good", "r1"), getDevice())

	require.Equal(t, http.StatusForbidden, reply.Status)
	require.JSONEq(t, `{"error":"Forbidden","data":{"policy":"tenant-admin"}}`, string(reply.Body))
	require.Zero(t, up.refreshCalls.Load())
}

func TestMissingAccessCredentialSkipsBackend(t *testing.T) {
	up, c := newUpstream(t)
	h := newHandler(c)

	reply, outcome := h.Execute(t.Context(), store("", "r1"), getDevice())

	require.Equal(t, proxy.OutcomeNoAccessToken, outcome)
	require.Equal(t, http.StatusUnauthorized, reply.Status)
	require.Zero(t, up.resourceCalls.Load())
	require.Zero(t, up.refreshCalls.Load())
}

func TestSecondUnauthorizedIsFinal(t *testing.T) {
	up, c := newUpstream(t)
	h := newHandler(c)
	s := store("expired", "r1")

	// The refresh succeeds but the backend rejects the new credential too.
	reply, outcome := h.Execute(t.Context(), s, getDevice())

	require.Equal(t, proxy.OutcomeRetryFailed, outcome)
	require.Equal(t, http.StatusUnauthorized, reply.Status)
	require.JSONEq(t, `{"error":"Token expired"}`, string(reply.Body))
	require.EqualValues(t, 2, up.resourceCalls.Load())
	require.EqualValues(t, 1, up.refreshCalls.Load(), "exactly one refresh")

	access, _ := s.Get("access_token")
	require.Equal(t, "new1", access)
}

func TestMissingRefreshCredentialClearsSession(t *testing.T) {
	up, c := newUpstream(t)
	h := newHandler(c)
	s := store("expired", "")

	reply, outcome := h.Execute(t.Context(), s, getDevice())

	require.Equal(t, proxy.OutcomeRefreshFailed, outcome)
	require.Equal(t, http.StatusUnauthorized, reply.Status)
	require.Zero(t, up.refreshCalls.Load())
	requireCleared(t, s)
}

type unreachableRefresher struct{ calls int }

func (u *unreachableRefresher) Refresh(context.Context, credential.Store) (refresh.Result, error) {
	u.calls++
	return refresh.Result{}, &refresh.Error{
		Reason: refresh.ErrUnavailable,
		Err:    &backend.Error{Kind: backend.KindNetwork, Message: "Backend unavailable", Err: errors.New("connection reset")},
	}
}

func TestUnreachableRefreshKeepsSession(t *testing.T) {
	_, c := newUpstream(t)
	h := newHandler(c)
	ref := &unreachableRefresher{}
	h.Refresher = ref
	s := store("expired", "r1")

	reply, outcome := h.Execute(t.Context(), s, getDevice())

	require.Equal(t, proxy.OutcomeRefreshUnavailable, outcome)
	require.Equal(t, http.StatusInternalServerError, reply.Status)
	require.Equal(t, 1, ref.calls)
	require.Zero(t, s.Mutations(), "session survives a transport failure")
}

func TestUnreachableBackendNeverRefreshes(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := backend.NewClient(srv.URL, time.Second)
	require.NoError(t, err)

	h := newHandler(c)
	ref := &unreachableRefresher{}
	h.Refresher = ref

	reply, outcome := h.Execute(t.Context(), store("good", "r1"), getDevice())

	require.Equal(t, proxy.OutcomeUpstreamError, outcome)
	require.Equal(t, http.StatusInternalServerError, reply.Status)
	require.JSONEq(t, `{"error":"Backend unavailable"}`, string(reply.Body))
	require.Zero(t, ref.calls)
}

func serveMux(h *proxy.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(h.Route.MuxPattern(), h)
	return mux
}

func withCookies(req *http.Request, access, refreshTok string) *http.Request {
	req.AddCookie(&http.Cookie{Name: "access_token", Value: access})
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refreshTok})
	req.AddCookie(&http.Cookie{Name: "session", Value: "descriptor"})
	return req
}

func TestServeHTTPSetsRefreshedCookie(t *testing.T) {
	up, c := newUpstream(t)
	up.accept("new1")
	h := newHandler(c)

	rec := httptest.NewRecorder()
	serveMux(h).ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodGet, "/api/devices/abc", nil), "expired", "r1"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"id":"abc"}`, rec.Body.String())

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "access_token", cookies[0].Name)
	require.Equal(t, "new1", cookies[0].Value)
	require.True(t, cookies[0].HttpOnly)
	require.True(t, cookies[0].Secure)
	require.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	require.Equal(t, 900, cookies[0].MaxAge)
}

func TestServeHTTPClearsCookiesOnRejectedRefresh(t *testing.T) {
	up, c := newUpstream(t)
	up.refreshStatus = http.StatusUnauthorized
	h := newHandler(c)

	rec := httptest.NewRecorder()
	serveMux(h).ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodGet, "/api/devices/abc", nil), "expired", "bad"))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())

	cleared := make(map[string]bool)
	for _, ck := range rec.Result().Cookies() {
		require.Equal(t, -1, ck.MaxAge, ck.Name)
		cleared[ck.Name] = true
	}
	require.Equal(t, map[string]bool{"access_token": true, "refresh_token": true, "session": true}, cleared)
}

func TestServeHTTPReplaysMultipartIdentically(t *testing.T) {
	up, c := newUpstream(t)
	up.accept("new1")
	h := newHandler(c)
	h.Route = routes.Route{
		Name:     "service-requests.attachments",
		Method:   http.MethodPost,
		Pattern:  "/api/service-requests/{id}/attachments",
		Upstream: "/service-requests/{id}/attachments",
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "paper jam, tray 2"))
	fw, err := mw.CreateFormFile("photo", "jam.jpg")
	require.NoError(t, err)
	photo := bytes.Repeat([]byte{0xff, 0xd8, 0x00, '\n', 0x42}, 4096)
	_, err = fw.Write(photo)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	original := append([]byte(nil), buf.Bytes()...)

	req := httptest.NewRequest(http.MethodPost, "/api/service-requests/sr-7/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := httptest.NewRecorder()
	serveMux(h).ServeHTTP(rec, withCookies(req, "expired", "r1"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, up.bodies, 2)
	require.Equal(t, original, up.bodies[0])
	require.Equal(t, original, up.bodies[1])
	require.Equal(t, up.contentTypes[0], up.contentTypes[1])

	form, err := multipart.NewReader(bytes.NewReader(up.bodies[1]), mw.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	require.Equal(t, []string{"paper jam, tray 2"}, form.Value["note"])
	require.Equal(t, "jam.jpg", form.File["photo"][0].Filename)
}

func TestServeHTTPReplaysJSON(t *testing.T) {
	up, c := newUpstream(t)
	up.accept("new1")
	h := newHandler(c)
	h.Route = routes.Route{Name: "devices.update", Method: http.MethodPatch, Pattern: "/api/devices/{id}", Upstream: "/devices/{id}"}

	req := httptest.NewRequest(http.MethodPatch, "/api/devices/abc", strings.NewReader(`{"location":"Level 3"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	serveMux(h).ServeHTTP(rec, withCookies(req, "expired", "r1"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, up.bodies, 2)
	for _, b := range up.bodies {
		var doc map[string]string
		require.NoError(t, json.Unmarshal(b, &doc))
		require.Equal(t, "Level 3", doc["location"])
	}
}

func TestServeHTTPRejectsOversizedBody(t *testing.T) {
	up, c := newUpstream(t)
	h := newHandler(c)
	h.Route = routes.Route{Name: "devices.create", Method: http.MethodPost, Pattern: "/api/devices", Upstream: "/devices"}
	h.Cloner.MaxBytes = 16

	req := httptest.NewRequest(http.MethodPost, "/api/devices", strings.NewReader(`{"serial":"0123456789abcdef"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	serveMux(h).ServeHTTP(rec, withCookies(req, "good", "r1"))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Zero(t, up.resourceCalls.Load())
}

func TestServeHTTPDropsUpstreamCookies(t *testing.T) {
	up, c := newUpstream(t)
	up.resource = func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "backend_session", Value: "x"})
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{}`)
	}
	h := newHandler(c)

	rec := httptest.NewRecorder()
	serveMux(h).ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodGet, "/api/devices/abc", nil), "good", "r1"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Values("Set-Cookie"))
}
