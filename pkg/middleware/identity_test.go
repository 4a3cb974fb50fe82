package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityMiddleware_Optional(t *testing.T) {
	var seen *Identity
	handler := NewIdentityMiddleware(false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetIdentity(r)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("header present", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(IdentityHeader, "alice@example.com")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "alice@example.com", seen.Email)
	})

	t.Run("header absent passes through as anonymous", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest("GET", "/", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Nil(t, seen)
	})
}

func TestIdentityMiddleware_Required(t *testing.T) {
	called := false
	handler := NewIdentityMiddleware(true).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, called)
}

func TestGetIdentity_NoMiddleware(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Nil(t, GetIdentity(req))
}
