package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

const SessionCookieName = "um_session"

// SessionTokenFromRequest returns the signed session value carried by the
// request, preferring the cookie and falling back to an Authorization Bearer
// header for API clients.
func SessionTokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return BearerToken(r.Header.Get("Authorization"))
}

func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// CookieCodec signs session IDs with HMAC-SHA256. The first key signs; every
// key verifies, so a secret can be rotated without logging everyone out.
type CookieCodec struct {
	keys [][]byte
}

func NewCookieCodec(current []byte, previous ...[]byte) CookieCodec {
	var keys [][]byte
	for _, k := range append([][]byte{current}, previous...) {
		if len(k) == 0 {
			continue
		}
		keys = append(keys, append([]byte(nil), k...))
	}
	return CookieCodec{keys: keys}
}

// Signed reports whether the codec has at least one key.
func (c CookieCodec) Signed() bool { return len(c.keys) > 0 }

func (c CookieCodec) EncodeSessionID(sessionID string) string {
	if !c.Signed() {
		return sessionID
	}
	return sessionID + "." + base64.RawURLEncoding.EncodeToString(sign(c.keys[0], sessionID))
}

func (c CookieCodec) DecodeSessionID(value string) (string, bool) {
	if !c.Signed() {
		return value, value != ""
	}

	id, encoded, ok := strings.Cut(value, ".")
	if !ok || id == "" || encoded == "" {
		return "", false
	}
	sig, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(sig) != sha256.Size {
		return "", false
	}
	for _, key := range c.keys {
		if hmac.Equal(sig, sign(key, id)) {
			return id, true
		}
	}
	return "", false
}

func sign(key []byte, id string) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(id))
	return mac.Sum(nil)
}

func SetSessionCookie(w http.ResponseWriter, value string, ttl time.Duration, secure bool) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	c := sessionCookie(value, secure)
	c.MaxAge = int(ttl.Seconds())
	c.Expires = time.Now().Add(ttl)
	http.SetCookie(w, c)
}

func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	c := sessionCookie("", secure)
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}

func sessionCookie(value string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
