package credential

import "time"

// Default cookie names.
const (
	DefaultAccessName  = "access_token"
	DefaultRefreshName = "refresh_token"
	DefaultSessionName = "session"
)

// Names are the cookie names of the three credentials.
type Names struct {
	Access  string
	Refresh string
	Session string
}

// DefaultNames returns access_token, refresh_token and session.
func DefaultNames() Names {
	return Names{
		Access:  DefaultAccessName,
		Refresh: DefaultRefreshName,
		Session: DefaultSessionName,
	}
}

// Policy decides how each credential is stored: its cookie name, lifetime
// and transport flags. The session descriptor lives as long as the access
// credential it describes.
type Policy struct {
	Names      Names
	Secure     bool
	Domain     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Attributes returns cookie attributes for a credential living ttl.
func (p Policy) Attributes(ttl time.Duration) Attributes {
	return Attributes{MaxAge: ttl, Secure: p.Secure, Domain: p.Domain}
}

func (p Policy) Access(s Store) (string, bool)  { return nonEmpty(s, p.Names.Access) }
func (p Policy) Refresh(s Store) (string, bool) { return nonEmpty(s, p.Names.Refresh) }
func (p Policy) Session(s Store) (string, bool) { return nonEmpty(s, p.Names.Session) }

func (p Policy) SetAccess(s Store, token string) {
	s.Set(p.Names.Access, token, p.Attributes(p.AccessTTL))
}

func (p Policy) SetRefresh(s Store, token string) {
	s.Set(p.Names.Refresh, token, p.Attributes(p.RefreshTTL))
}

func (p Policy) SetSession(s Store, descriptor string) {
	s.Set(p.Names.Session, descriptor, p.Attributes(p.AccessTTL))
}

// ClearAll removes all three credentials. Clearing an absent credential is
// a no-op, so calling it twice leaves the same state.
func (p Policy) ClearAll(s Store) {
	s.Clear(p.Names.Access)
	s.Clear(p.Names.Refresh)
	s.Clear(p.Names.Session)
}

func nonEmpty(s Store, name string) (string, bool) {
	v, ok := s.Get(name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
