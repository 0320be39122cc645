package credential

import (
	"net/http"
	"strings"
)

// CookieStore reads credentials from the inbound request and writes them as
// Set-Cookie headers on the response. Writes are visible to later Gets and
// a name is never emitted twice: the last Set or Clear wins.
//
// Headers must be written before the response status, as with any header.
type CookieStore struct {
	w    http.ResponseWriter
	r    *http.Request
	base Attributes

	written map[string]*http.Cookie
}

var _ Store = (*CookieStore)(nil)

// NewCookieStore returns a store over one exchange. base supplies the
// Secure and Domain flags used when clearing.
func NewCookieStore(w http.ResponseWriter, r *http.Request, base Attributes) *CookieStore {
	return &CookieStore{w: w, r: r, base: base, written: make(map[string]*http.Cookie)}
}

func (s *CookieStore) Get(name string) (string, bool) {
	if c, ok := s.written[name]; ok {
		if c.MaxAge < 0 {
			return "", false
		}
		return c.Value, true
	}

	c, err := s.r.Cookie(name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

func (s *CookieStore) Set(name, value string, attrs Attributes) {
	s.write(attrs.Cookie(name, value))
}

func (s *CookieStore) Clear(name string) {
	if c, ok := s.written[name]; ok && c.MaxAge < 0 {
		return
	}
	s.write(s.base.Expired(name))
}

// Cleared reports whether name was deleted during this exchange.
func (s *CookieStore) Cleared(name string) bool {
	c, ok := s.written[name]
	return ok && c.MaxAge < 0
}

func (s *CookieStore) write(c *http.Cookie) {
	s.written[c.Name] = c

	h := s.w.Header()
	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		if cookieName(v) != c.Name {
			kept = append(kept, v)
		}
	}
	h["Set-Cookie"] = append(kept, c.String())
}

func cookieName(setCookie string) string {
	name, _, _ := strings.Cut(setCookie, "=")
	return strings.TrimSpace(name)
}
