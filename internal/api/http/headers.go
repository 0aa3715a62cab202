// internal/api/http/headers.go
package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// EmbedHeaders disables caching and restricts who may frame the tool.
func EmbedHeaders(frameAncestors []string) func(http.Handler) http.Handler {
	csp := "frame-ancestors 'self'"
	if len(frameAncestors) > 0 {
		csp += " " + strings.Join(frameAncestors, " ")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Content-Security-Policy", csp)
			next.ServeHTTP(w, r)
		})
	}
}

func HealthHandler(started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"uptime": time.Since(started).Round(time.Second).Seconds(),
		})
	}
}
