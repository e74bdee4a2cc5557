package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func doAuth(t *testing.T, apiKey string, allowLocal bool, remoteAddr string, header func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	handler := APIKeyAuth(apiKey, allowLocal)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/vitality/cleanup/prepare", nil)
	req.RemoteAddr = remoteAddr
	if header != nil {
		header(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthHeaderKey(t *testing.T) {
	rec := doAuth(t, "sekret", false, "10.0.0.9:1234", func(r *http.Request) {
		r.Header.Set("X-MCP-API-Key", "sekret")
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthBearerKey(t *testing.T) {
	rec := doAuth(t, "sekret", false, "10.0.0.9:1234", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer sekret")
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthWrongKey(t *testing.T) {
	rec := doAuth(t, "sekret", false, "127.0.0.1:1234", func(r *http.Request) {
		r.Header.Set("X-MCP-API-Key", "wrong")
	})
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), ReasonInvalidOrMissingKey) {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestAuthMissingKey(t *testing.T) {
	rec := doAuth(t, "sekret", false, "127.0.0.1:1234", nil)
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), ReasonInvalidOrMissingKey) {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestAuthNotConfigured(t *testing.T) {
	rec := doAuth(t, "", false, "127.0.0.1:1234", nil)
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), ReasonKeyNotConfigured) {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestAuthInsecureLocalFromLoopback(t *testing.T) {
	for _, addr := range []string{"127.0.0.1:1234", "[::1]:1234", "localhost:1234"} {
		rec := doAuth(t, "", true, addr, nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("addr %s: status = %d", addr, rec.Code)
		}
	}
}

func TestAuthInsecureLocalFromRemote(t *testing.T) {
	rec := doAuth(t, "", true, "192.168.1.50:1234", nil)
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), ReasonInsecureLocalLoopback) {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}
