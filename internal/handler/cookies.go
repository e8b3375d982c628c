package handler

import (
	"net/http"
	"time"

	"otp-auth-service/internal/token"
)

const (
	accessCookie  = "token"
	refreshCookie = "refreshToken"
)

// cookieJar writes the session cookies. Secure is set in production only
// so local development works over plain HTTP.
type cookieJar struct {
	secure     bool
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func (c cookieJar) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c cookieJar) setSession(w http.ResponseWriter, pair *token.Pair) {
	http.SetCookie(w, c.cookie(accessCookie, pair.AccessToken, c.accessTTL))
	http.SetCookie(w, c.cookie(refreshCookie, pair.RefreshToken, c.refreshTTL))
}

func (c cookieJar) setAccess(w http.ResponseWriter, accessToken string) {
	http.SetCookie(w, c.cookie(accessCookie, accessToken, c.accessTTL))
}

func (c cookieJar) clear(w http.ResponseWriter) {
	for _, name := range []string{accessCookie, refreshCookie} {
		ck := c.cookie(name, "", 0)
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0)
		http.SetCookie(w, ck)
	}
}
