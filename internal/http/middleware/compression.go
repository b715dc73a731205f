package middleware

import (
	"net/http"
	"slices"
)

// SkipCompressionFor wraps a compression middleware so that requests for the
// given paths are served uncompressed. Health probes are polled often and
// their bodies are small.
func SkipCompressionFor(compressionHandler func(http.Handler) http.Handler, paths ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead || slices.Contains(paths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}
