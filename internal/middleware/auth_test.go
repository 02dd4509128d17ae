package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitchsafe/companion/internal/middleware"
)

type mockVerifier struct {
	verify func(token string) (string, error)
}

func (m mockVerifier) Verify(token string) (string, error) { return m.verify(token) }

var _ middleware.TokenVerifier = mockVerifier{}

func newAuthHandler() http.Handler {
	v := mockVerifier{verify: func(token string) (string, error) {
		if token == "good" {
			return "u1", nil
		}
		return "", errors.New("bad token")
	}}
	return middleware.NewAuthenticator(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.UserID(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(id))
	}))
}

func TestAuthenticator_ValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()

	newAuthHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())
}

func TestAuthenticator_StoresToken(t *testing.T) {
	v := mockVerifier{verify: func(string) (string, error) { return "u1", nil }}
	var got string
	h := middleware.NewAuthenticator(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = middleware.Token(r.Context())
	}))
	req := httptest.NewRequest(http.MethodPost, "/auth/signout", nil)
	req.Header.Set("Authorization", "Bearer tok-1")

	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "tok-1", got)
}

func TestAuthenticator_Rejects(t *testing.T) {
	tests := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic good",
		"empty token":    "Bearer ",
		"bad token":      "Bearer bad",
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()

			newAuthHandler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"code":"unauthorized"`)
		})
	}
}
