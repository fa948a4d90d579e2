package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSMiddleware answers cross-origin requests from the reporter web app.
type CORSMiddleware struct {
	allowAll bool
	origins  map[string]bool
	methods  string
	headers  string
	maxAge   string
}

// NewCORSMiddleware creates a CORS middleware. An origin of "*" allows any
// origin.
func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	m := &CORSMiddleware{
		origins: make(map[string]bool),
		methods: strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", "),
		headers: "Content-Type",
		maxAge:  strconv.Itoa(600),
	}
	for _, o := range allowedOrigins {
		if o == "*" {
			m.allowAll = true
			continue
		}
		m.origins[strings.TrimSuffix(o, "/")] = true
	}
	return m
}

// Handler returns middleware that sets CORS headers and short-circuits
// preflight requests.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Add("Vary", "Origin")

		allowed := m.allowAll || m.origins[origin]
		if allowed {
			if m.allowAll {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h.Set("Access-Control-Allow-Methods", m.methods)
			h.Set("Access-Control-Allow-Headers", m.headers)
			h.Set("Access-Control-Max-Age", m.maxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
