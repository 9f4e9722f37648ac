package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "operator-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "launchpad-ops", Audience: "launchpad"}, nil)
	require.NoError(t, err)
	return auth
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "ops@example.org",
		"iss":   "launchpad-ops",
		"aud":   "launchpad",
		"scope": "jobs read",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func TestAuthenticatorAcceptsScopedToken(t *testing.T) {
	auth := newTestAuthenticator(t)
	var subject string
	handler := auth.Middleware("jobs")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = r.Context().Value(ContextKeySubject).(string)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/jobs/creators/backfill", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims()))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "ops@example.org", subject)
}

func TestAuthenticatorRejections(t *testing.T) {
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongAud := validClaims()
	wrongAud["aud"] = "someone-else"
	noScope := validClaims()
	noScope["scope"] = "read"
	noExp := validClaims()
	delete(noExp, "exp")

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", validClaims()), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, expired), http.StatusUnauthorized},
		{"no expiry", "Bearer " + signToken(t, testSecret, noExp), http.StatusUnauthorized},
		{"audience", "Bearer " + signToken(t, testSecret, wrongAud), http.StatusUnauthorized},
		{"scope", "Bearer " + signToken(t, testSecret, noScope), http.StatusForbidden},
	}
	auth := newTestAuthenticator(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := auth.Middleware("jobs")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("handler must not run")
			}))
			req := httptest.NewRequest(http.MethodPost, "/jobs/creators/backfill", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			require.Equal(t, tc.status, res.Code)
		})
	}
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	_, err := NewAuthenticator(AuthConfig{}, nil)
	require.Error(t, err)
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("preflight must not reach handler")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/token", nil)
	req.Header.Set("Origin", "https://app.example")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	require.Equal(t, http.StatusNoContent, res.Code)
	require.Equal(t, "https://app.example", res.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, res.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}
