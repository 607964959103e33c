package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "super-secret-signing-key"

func mintToken(t *testing.T, secret, subject, role string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: "user@example.com",
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authedRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestAuthAcceptsValidToken(t *testing.T) {
	auth := NewAuth(testSecret, nil)

	var gotUser, gotRole, gotToken string
	handler := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserID(r.Context())
		gotRole = Role(r.Context())
		gotToken = Token(r.Context())
	}))

	token := mintToken(t, testSecret, "user-123", "ceo", time.Now().Add(time.Hour))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(token))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if gotUser != "user-123" || gotRole != "ceo" || gotToken != token {
		t.Fatalf("context = (%q, %q, token match %v)", gotUser, gotRole, gotToken == token)
	}
}

func TestAuthRejects(t *testing.T) {
	auth := NewAuth(testSecret, nil)
	handler := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with a bad token")
	}))

	cases := map[string]string{
		"missing token": "",
		"garbage":       "not.a.jwt",
		"wrong secret":  mintToken(t, "other-secret", "user-123", "", time.Now().Add(time.Hour)),
		"expired":       mintToken(t, testSecret, "user-123", "", time.Now().Add(-time.Hour)),
		"empty subject": mintToken(t, testSecret, "", "", time.Now().Add(time.Hour)),
	}
	for name, token := range cases {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, authedRequest(token))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, rr.Code)
		}
	}
}

func TestAuthRejectsUnsignedAlgorithm(t *testing.T) {
	auth := NewAuth(testSecret, nil)
	handler := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with alg=none token")
	}))

	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-123"},
	})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, authedRequest(raw))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestRateLimiterThrottlesPerCaller(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func(addr string) int {
		r := httptest.NewRequest(http.MethodGet, "/api/countdown", nil)
		r.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, r)
		return rr.Code
	}

	// Burst of two passes, third is throttled.
	if send("10.0.0.1:1234") != http.StatusOK || send("10.0.0.1:1234") != http.StatusOK {
		t.Fatal("burst rejected")
	}
	if code := send("10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", code)
	}

	// A different caller has its own bucket.
	if code := send("10.0.0.2:1234"); code != http.StatusOK {
		t.Fatalf("independent caller throttled: %d", code)
	}
}

func TestRateLimiterIgnoresAuthContext(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func(user string) int {
		r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		r = r.WithContext(WithUserID(r.Context(), user))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, r)
		return rr.Code
	}

	// The limiter runs ahead of auth, so distinct users behind one IP share
	// a bucket.
	if send("user-a") != http.StatusOK {
		t.Fatal("first request rejected")
	}
	if code := send("user-b"); code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 for the shared IP bucket", code)
	}
}
