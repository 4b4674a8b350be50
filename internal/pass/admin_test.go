package pass

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPIdentityResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/v1/user", r.URL.Path)
		require.Equal(t, "anon-key", r.Header.Get("apikey"))

		switch r.Header.Get("Authorization") {
		case "Bearer good-bearer":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"u-1","email":"staff@example.com"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	resolver := NewHTTPIdentityResolver(srv.URL+"/", "anon-key")

	email, err := resolver.ResolveEmail(context.Background(), "good-bearer")
	require.NoError(t, err)
	assert.Equal(t, "staff@example.com", email)

	_, err = resolver.ResolveEmail(context.Background(), "bad-bearer")
	assert.ErrorIs(t, err, ErrUnauthorized)

	// The service's own anon key is not a user credential
	_, err = resolver.ResolveEmail(context.Background(), "anon-key")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = resolver.ResolveEmail(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestHTTPIdentityResolver_EmptyEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"u-1"}`))
	}))
	defer srv.Close()

	resolver := NewHTTPIdentityResolver(srv.URL, "anon-key")
	_, err := resolver.ResolveEmail(context.Background(), "some-bearer")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
