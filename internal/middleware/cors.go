package middleware

import (
	"net/http"

	"github.com/rs/zerolog"
)

// CORS allows the configured frontend origin and answers preflight requests.
func CORS(allowedOrigin string, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				logger.Debug().Str("path", r.URL.Path).Msg("handled OPTIONS preflight")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
