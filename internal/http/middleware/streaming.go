package middleware

import (
	"net/http"
	"strings"
)

// CompressUnlessStreaming applies compress to every response except server-sent
// event streams, which must flush unbuffered, and audio downloads, which are
// already compressed and may be served as byte ranges.
func CompressUnlessStreaming(compress func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compress(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isStreaming(r) {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}

func isStreaming(r *http.Request) bool {
	switch {
	case strings.Contains(r.Header.Get("Accept"), "text/event-stream"):
		return true
	case r.Header.Get("Range") != "":
		return true
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	return strings.HasSuffix(path, "/events") || strings.HasSuffix(path, "/audio")
}
