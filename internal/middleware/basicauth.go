package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// BasicAuth guards operator endpoints such as /metrics with a single set of
// HTTP basic auth credentials.
type BasicAuth struct {
	realm    string
	username string
	password string
	logger   *slog.Logger
}

// NewBasicAuth creates the middleware. If both username and password are
// empty it passes every request through.
func NewBasicAuth(realm, username, password string, logger *slog.Logger) *BasicAuth {
	return &BasicAuth{
		realm:    realm,
		username: username,
		password: password,
		logger:   logger,
	}
}

// Enabled reports whether credentials are configured.
func (m *BasicAuth) Enabled() bool {
	return m.username != "" || m.password != ""
}

// Handler returns middleware that requires the configured credentials.
func (m *BasicAuth) Handler(next http.Handler) http.Handler {
	if !m.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			m.reject(w, r, "missing credentials")
			return
		}

		// Compare both fields so a wrong username costs the same as a wrong password
		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(m.username))
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(m.password))
		if userMatch&passMatch != 1 {
			m.reject(w, r, "bad credentials")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *BasicAuth) reject(w http.ResponseWriter, r *http.Request, reason string) {
	if m.logger != nil {
		m.logger.Warn("basic auth rejected",
			"realm", m.realm,
			"reason", reason,
			"path", r.URL.Path,
			"ip", getClientIP(r),
		)
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="`+m.realm+`", charset="UTF-8"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
