// Package middleware provides HTTP middleware for the agent API.
package middleware

import "net/http"

// CORS returns middleware that answers cross-origin requests from the
// chat palette. Credentials are only ever allowed for origins listed
// explicitly: echoing a wildcard-matched origin with Allow-Credentials
// enables CSRF.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if match, explicit := matchOrigin(allowedOrigins, origin); match {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchOrigin reports whether origin is allowed, and whether the match
// was an explicit entry rather than the wildcard.
func matchOrigin(allowed []string, origin string) (match, explicit bool) {
	for _, o := range allowed {
		if o == origin {
			return true, true
		}
		if o == "*" {
			match = true
		}
	}
	return match, false
}
