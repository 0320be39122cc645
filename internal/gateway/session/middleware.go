package session

import (
	"net/http"

	"github.com/aussiebroadwan/printdesk/internal/gateway/credential"
	"github.com/aussiebroadwan/printdesk/pkg/httpx"
	"github.com/aussiebroadwan/printdesk/pkg/slogx"
)

// Middleware records the signed-in user, when there is a valid descriptor,
// in the request context and on the request logger. It never rejects a
// request: the backend decides what an anonymous caller may do.
func (i *Issuer) Middleware() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			store := credential.NewCookieStore(w, r, i.Policy.Attributes(0))

			id, err := i.Current(store)
			if err == nil && id.UserID != "" {
				ctx := httpx.WithUserID(r.Context(), id.UserID)
				ctx = slogx.With(ctx, "user_id", id.UserID, "tenant_id", id.TenantID)
				r = r.WithContext(ctx)
			}

			next.ServeHTTP(w, r)
		})
	}
}
