package auth

import (
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	cookieName     = "dermascan_session"
	cookieTokenKey = "token"
)

// CookieSessions carries the session token in a signed browser cookie, for
// front ends that cannot attach a bearer header.
type CookieSessions struct {
	store *sessions.CookieStore
}

// NewCookieSessions creates a signed cookie store.
func NewCookieSessions(secret []byte, secure bool) *CookieSessions {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &CookieSessions{store: store}
}

// Save writes the token into the cookie until expiresAt.
func (c *CookieSessions) Save(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) error {
	sess, _ := c.store.Get(r, cookieName) // a broken cookie yields a fresh session
	sess.Values[cookieTokenKey] = token
	opts := *c.store.Options
	opts.MaxAge = int(time.Until(expiresAt).Seconds())
	sess.Options = &opts
	return sess.Save(r, w)
}

// Token returns the token stored in the request cookie, if any.
func (c *CookieSessions) Token(r *http.Request) string {
	sess, err := c.store.Get(r, cookieName)
	if err != nil {
		return ""
	}
	token, _ := sess.Values[cookieTokenKey].(string)
	return token
}

// Clear expires the cookie.
func (c *CookieSessions) Clear(w http.ResponseWriter, r *http.Request) error {
	sess, _ := c.store.Get(r, cookieName)
	delete(sess.Values, cookieTokenKey)
	opts := *c.store.Options
	opts.MaxAge = -1
	sess.Options = &opts
	return sess.Save(r, w)
}
