package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

const (
	allowMethods = "POST, OPTIONS"
	allowHeaders = "Content-Type, Authorization, X-Upload-Url, X-File-Name"
	noStore      = "no-store, no-cache, must-revalidate, proxy-revalidate, max-age=0"

	// NullOrigin stands in for requests without an Origin header
	// (file:// pages, curl, server-to-server).
	NullOrigin = "null"
)

// NoStore marks every response as uncacheable and origin-dependent.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", noStore)
		h.Set("Vary", "Origin")
		next.ServeHTTP(w, r)
	})
}

// OriginGuard enforces the origin allow-list. Allowed origins are echoed here
// and then handed to go-chi/cors, which leaves the header off preflights whose
// requested method or headers it does not list. Preflights pass through so the
// router can answer 204. Preflights from unknown origins still get 204,
// carrying the first allow-listed origin. Any other request from an unknown
// origin is rejected with 403.
func OriginGuard(allowed []string, logger *slog.Logger) func(http.Handler) http.Handler {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(o)] = true
	}
	fallback := NullOrigin
	if len(allowed) > 0 {
		fallback = allowed[0]
	}

	c := cors.New(cors.Options{
		AllowedOrigins:     allowed,
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Content-Type", "Authorization", "X-Upload-Url", "X-File-Name"},
		MaxAge:             600,
		OptionsPassthrough: true,
	})

	return func(next http.Handler) http.Handler {
		withCORS := c.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = NullOrigin
				r.Header.Set("Origin", origin)
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Allow-Headers", allowHeaders)

			if set[strings.ToLower(origin)] {
				h.Set("Access-Control-Allow-Origin", origin)
				withCORS.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", fallback)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			logger.Warn("forbidden origin", "origin", origin, "path", r.URL.Path)
			WriteError(w, http.StatusForbidden, "Forbidden origin")
		})
	}
}
