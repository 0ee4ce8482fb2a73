package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"socialqueue/internal/errors"
	"socialqueue/internal/service"
	"socialqueue/internal/tracing"

	"github.com/sirupsen/logrus"
)

type ownerKey struct{}

// TokenSource returns the current bearer token to owner mapping. It is read
// on every request so rotated tokens apply without a restart.
type TokenSource func() map[string]string

// OwnerFromContext returns the owner resolved by BearerAuth.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}

// WithOwner stores the authenticated owner in ctx.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// BearerAuth resolves "Authorization: Bearer <token>" to an owner and rejects
// the request with 401 when the token is missing or unknown.
func BearerAuth(tokens TokenSource, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, reason := resolveOwner(r.Header.Get("Authorization"), tokens())
			if owner == "" {
				logger.WithFields(logrus.Fields{
					service.LogFieldRequestID: tracing.RequestInfoFrom(r.Context()).RequestID,
					service.LogFieldRemoteIP:  ClientIP(r),
					"reason":                  reason,
				}).Warn("Rejected unauthenticated request")
				WriteError(w, r, errors.NewAuthError(reason))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}

func resolveOwner(header string, tokens map[string]string) (string, string) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", "missing bearer token"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "missing bearer token"
	}
	for candidate, owner := range tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return owner, ""
		}
	}
	return "", "unknown bearer token"
}

// WriteError writes err as the standard JSON error body with the status
// code its error code maps to.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errors.HTTPStatusCode(err))
	_ = json.NewEncoder(w).Encode(errors.ToHTTPResponse(err, tracing.RequestInfoFrom(r.Context()).RequestID))
}
