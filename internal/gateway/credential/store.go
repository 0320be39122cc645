// Package credential keeps the gateway's browser-held credentials: the
// backend access and refresh tokens and the signed session descriptor.
package credential

import (
	"net/http"
	"time"
)

// Store reads and writes credentials for one HTTP exchange. Absence is a
// normal state (anonymous request), so none of the methods fail.
type Store interface {
	Get(name string) (string, bool)
	Set(name, value string, attrs Attributes)
	Clear(name string)
}

// Attributes are the per-cookie settings that vary. Every credential cookie
// is HttpOnly, SameSite=Lax and scoped to "/".
type Attributes struct {
	MaxAge time.Duration
	Secure bool
	Domain string
}

// Cookie builds the cookie that stores value under name.
func (a Attributes) Cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   a.Domain,
		MaxAge:   int(a.MaxAge / time.Second),
		Secure:   a.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// Expired builds the cookie that deletes name from the browser.
func (a Attributes) Expired(name string) *http.Cookie {
	c := a.Cookie(name, "")
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	return c
}
