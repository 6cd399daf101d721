package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func sign(t *testing.T, claims UserClaims, secret []byte) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func validClaims(role string) UserClaims {
	return UserClaims{
		UserID: "u1",
		Email:  "u1@example.mg",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	w.Write([]byte(claims.UserID))
}

func TestAuth(t *testing.T) {
	h := Auth(testSecret)(http.HandlerFunc(echoUser))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Token abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + sign(t, validClaims("citizen"), []byte("other")), http.StatusUnauthorized},
		{"valid", "Bearer " + sign(t, validClaims("citizen"), testSecret), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && rec.Body.String() != "u1" {
				t.Errorf("body = %q", rec.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := Auth(testSecret)(RequireRole("admin")(http.HandlerFunc(echoUser)))

	for role, want := range map[string]int{"admin": http.StatusOK, "citizen": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+sign(t, validClaims(role), testSecret))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("role %s: code = %d, want %d", role, rec.Code, want)
		}
	}
}

func TestTraceKeepsIncomingID(t *testing.T) {
	var seen string
	h := Trace(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetTraceID(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-Id", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc-123" || rec.Header().Get("X-Trace-Id") != "abc-123" {
		t.Errorf("trace id = %q / %q", seen, rec.Header().Get("X-Trace-Id"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Trace-Id") == "" {
		t.Error("no trace id generated")
	}
}

func TestNormalizePath(t *testing.T) {
	if got := normalizePath("/api/signalements/12"); got != "/api/signalements/:id" {
		t.Errorf("got %q", got)
	}
	if got := normalizePath("/api/signalements/4f8a9c0d2b1e4f8a9c0d2b1e"); got != "/api/signalements/:id" {
		t.Errorf("got %q", got)
	}
}
