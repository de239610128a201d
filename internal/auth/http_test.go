// ABOUTME: Tests for HTTP bearer authentication middleware
// ABOUTME: Covers token extraction, rejection responses and context population

package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		errMsg string
	}{
		{"", "", "missing authorization header"},
		{"Basic abc", "", "invalid authorization header format"},
		{"Bearer ", "", "empty token"},
		{"Bearer abc.def.ghi", "abc.def.ghi", ""},
	}
	for _, tt := range tests {
		token, errMsg := extractBearerToken(tt.header)
		assert.Equal(t, tt.token, token, "header %q", tt.header)
		assert.Equal(t, tt.errMsg, errMsg, "header %q", tt.header)
	}
}

func TestBearerMiddleware(t *testing.T) {
	signer, verifier := newHS256(t, 0)
	verify := func(_ context.Context, token string) (*Claims, error) {
		return verifier.Verify(token, "cell-a")
	}

	var got *AuthContext
	handler := BearerMiddleware(verify, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid token", func(t *testing.T) {
		token, err := signer.Issue("alice", "cell-a")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/validate", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, got)
		assert.Equal(t, "alice", got.Username)
		assert.Equal(t, "cell-a", got.CellID)
	})

	t.Run("verifier unavailable", func(t *testing.T) {
		down := BearerMiddleware(func(context.Context, string) (*Claims, error) {
			return nil, fmt.Errorf("%w: looking up user: connection refused", ErrVerificationUnavailable)
		}, nil)(handler)

		req := httptest.NewRequest(http.MethodGet, "/validate", nil)
		req.Header.Set("Authorization", "Bearer abc.def.ghi")
		rec := httptest.NewRecorder()
		down.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
		assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/validate", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"missing authorization header"}`, rec.Body.String())
	})

	t.Run("other cell", func(t *testing.T) {
		token, err := signer.Issue("alice", "cell-b")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/validate", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"invalid token"}`, rec.Body.String())
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	})
}
