package backend_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/printdesk/internal/gateway/backend"
	"github.com/aussiebroadwan/printdesk/internal/gateway/payload"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, h http.HandlerFunc) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := backend.NewClient(srv.URL, 2*time.Second)
	require.NoError(t, err)
	return c
}

func TestNewClientValidatesURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://backend", "http://", "::"} {
		_, err := backend.NewClient(raw, 0)
		require.Error(t, err, raw)
	}
}

func TestCallAttachesBearerAndForwardsAllowlist(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/devices", r.URL.Path)
		require.Equal(t, "active", r.URL.Query().Get("status"))
		require.Equal(t, "Bearer a1", r.Header.Get("Authorization"))
		require.Equal(t, "en-AU", r.Header.Get("Accept-Language"))
		require.Empty(t, r.Header.Get("Cookie"))

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Set-Cookie", "upstream=1")
		w.Header().Set("X-Internal", "secret")
		_, _ = io.WriteString(w, `[{"id":"abc"}]`)
	})

	header := make(http.Header)
	header.Set("Accept-Language", "en-AU")
	header.Set("Cookie", "access_token=a1")

	resp, err := c.Call(t.Context(), backend.Request{
		Method: http.MethodGet,
		Path:   "/devices",
		Query:  url.Values{"status": {"active"}},
		Header: header,
	}, "a1")
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.Status)
	require.JSONEq(t, `[{"id":"abc"}]`, string(resp.Body))
	require.Equal(t, `"v1"`, resp.Header.Get("ETag"))
	require.Empty(t, resp.Header.Get("Set-Cookie"))
	require.Empty(t, resp.Header.Get("X-Internal"))
}

func TestCallSendsSnapshotBody(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		require.JSONEq(t, `{"name":"HQ"}`, string(b))
		w.WriteHeader(http.StatusCreated)
	})

	resp, err := c.Call(t.Context(), backend.Request{
		Method: http.MethodPost,
		Path:   "/customers",
		Body:   payload.JSON(json.RawMessage(`{"name":"HQ"}`)),
	}, "a1")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Status)
}

func TestCallStatusErrors(t *testing.T) {
	t.Run("structured body is kept", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"error":"Serial already registered","data":{"field":"serial"}}`)
		})

		_, err := c.Call(t.Context(), backend.Request{Method: http.MethodPost, Path: "/devices"}, "a1")

		var be *backend.Error
		require.ErrorAs(t, err, &be)
		require.Equal(t, backend.KindStatus, be.Kind)
		require.Equal(t, http.StatusUnprocessableEntity, be.Status)
		require.Equal(t, "Serial already registered", be.Message)
		require.JSONEq(t, `{"error":"Serial already registered","data":{"field":"serial"}}`, string(be.Body))
		require.False(t, be.Unauthorized())
	})

	t.Run("opaque body", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "<html>bad gateway</html>", http.StatusBadGateway)
		})

		_, err := c.Call(t.Context(), backend.Request{Method: http.MethodGet, Path: "/"}, "a1")

		var be *backend.Error
		require.ErrorAs(t, err, &be)
		require.Equal(t, http.StatusBadGateway, be.Status)
		require.Nil(t, be.Body)
		require.Equal(t, "Bad Gateway", be.Message)
	})

	t.Run("unauthorized", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		_, err := c.Call(t.Context(), backend.Request{Method: http.MethodGet, Path: "/"}, "expired")

		var be *backend.Error
		require.ErrorAs(t, err, &be)
		require.True(t, be.Unauthorized())
	})
}

func TestCallNetworkErrors(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()

		c, err := backend.NewClient(srv.URL, time.Second)
		require.NoError(t, err)

		_, err = c.Call(t.Context(), backend.Request{Method: http.MethodGet, Path: "/"}, "a1")

		var be *backend.Error
		require.ErrorAs(t, err, &be)
		require.Equal(t, backend.KindNetwork, be.Kind)
		require.False(t, be.Unauthorized())
	})

	t.Run("timeout is a network error", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			w.WriteHeader(http.StatusUnauthorized)
		}))
		t.Cleanup(srv.Close)
		t.Cleanup(func() { close(release) })

		c, err := backend.NewClient(srv.URL, 50*time.Millisecond)
		require.NoError(t, err)

		_, err = c.Call(t.Context(), backend.Request{Method: http.MethodGet, Path: "/"}, "a1")

		var be *backend.Error
		require.ErrorAs(t, err, &be)
		require.Equal(t, backend.KindNetwork, be.Kind)
	})
}

func TestPing(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, c.Ping(t.Context()))
}

type recordingObserver struct {
	operations []string
	statuses   []int
}

func (o *recordingObserver) ObserveUpstream(operation string, status int, _ time.Duration) {
	o.operations = append(o.operations, operation)
	o.statuses = append(o.statuses, status)
}

func TestObserverSeesEveryCall(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	obs := &recordingObserver{}
	c.Observer = obs

	_, err := c.Call(t.Context(), backend.Request{Method: http.MethodGet, Path: "/ok"}, "a1")
	require.NoError(t, err)
	_, err = c.Call(t.Context(), backend.Request{Method: http.MethodGet, Path: "/missing"}, "a1")
	require.Error(t, err)
	require.False(t, errors.Is(err, backend.ErrNoAccessToken))

	require.Equal(t, []string{"call", "call"}, obs.operations)
	require.Equal(t, []int{http.StatusOK, http.StatusNotFound}, obs.statuses)
}
