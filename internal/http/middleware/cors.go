package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

const (
	corsMethods = "GET, POST, DELETE, OPTIONS"
	// Range and Last-Event-ID are sent by audio players and EventSource.
	corsAllowHeaders  = "Accept, Content-Type, Range, Last-Event-ID, " + RequestIDHeader
	corsExposeHeaders = "Location, Content-Disposition, Content-Range, Accept-Ranges, " + RequestIDHeader
	corsMaxAge        = 24 * 60 * 60
)

// CORS allows cross-origin calls from origins, or from any origin when none
// are given. Preflight requests are answered directly.
func CORS(origins ...string) func(http.Handler) http.Handler {
	anyOrigin := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[strings.TrimSuffix(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if origin := r.Header.Get("Origin"); origin != "" {
				switch {
				case anyOrigin:
					h.Set("Access-Control-Allow-Origin", "*")
				case allowed[origin]:
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
				if h.Get("Access-Control-Allow-Origin") != "" {
					h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
