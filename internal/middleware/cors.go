package middleware

import (
	"net/http"

	"socialqueue/internal/constants"
)

// SetCORSHeaders writes the fixed CORS header set.
func SetCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", constants.CORSAllowOrigin)
	h.Set("Access-Control-Allow-Methods", constants.CORSAllowMethods)
	h.Set("Access-Control-Allow-Headers", constants.CORSAllowHeaders)
}

// CORS puts the fixed header set on every response and answers preflight
// requests with 200.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORSHeaders(w.Header())
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
