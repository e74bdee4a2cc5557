// Package middleware provides HTTP middleware for the maintenance API.
package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// Auth reason codes returned in 401 bodies.
const (
	ReasonInvalidOrMissingKey   = "invalid_or_missing_api_key"
	ReasonKeyNotConfigured      = "api_key_not_configured"
	ReasonInsecureLocalLoopback = "insecure_local_override_requires_loopback"
)

// APIKeyAuth guards write paths of the maintenance API. Credentials are
// accepted as X-MCP-API-Key or Authorization: Bearer. With no key
// configured, requests are rejected unless allowInsecureLocal is set and
// the client connects from loopback.
func APIKeyAuth(apiKey string, allowInsecureLocal bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				if !allowInsecureLocal {
					writeAuthError(w, ReasonKeyNotConfigured)
					return
				}
				if !isLoopback(r) {
					writeAuthError(w, ReasonInsecureLocalLoopback)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			presented := r.Header.Get("X-MCP-API-Key")
			if presented == "" {
				auth := r.Header.Get("Authorization")
				if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
					presented = after
				}
			}
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				writeAuthError(w, ReasonInvalidOrMissingKey)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeAuthError(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + reason + `"}`))
}
