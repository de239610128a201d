// ABOUTME: HTTP middleware for capability token authentication
// ABOUTME: Extracts the bearer token, verifies it and adds the identity to the request context

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// VerifyFunc checks a raw token for one service's identity
type VerifyFunc func(ctx context.Context, token string) (*Claims, error)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// BearerMiddleware rejects requests without a token verify accepts.
// The response never says why verification failed, only that it did.
func BearerMiddleware(verify VerifyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeAuthError(w, http.StatusUnauthorized, errMsg)
				return
			}

			claims, err := verify(r.Context(), token)
			if errors.Is(err, ErrVerificationUnavailable) {
				logger.Error("token verification unavailable", "path", r.URL.Path, "error", err)
				writeAuthError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if err != nil {
				logger.Debug("token rejected", "path", r.URL.Path, "error", err)
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			authCtx := &AuthContext{Username: claims.Username, CellID: claims.CellID}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
