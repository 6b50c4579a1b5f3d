package auth

import (
	"net/http"
	"strings"
)

// Middleware returns HTTP middleware that extracts and validates a Bearer JWT
// from the Authorization header and injects the Principal into the request
// context. Paths listed in allowUnauthenticated bypass authentication.
func Middleware(secret string, allowUnauthenticated ...string) func(http.Handler) http.Handler {
	allow := make(map[string]struct{}, len(allowUnauthenticated))
	for _, p := range allowUnauthenticated {
		allow[strings.TrimSpace(p)] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := allow[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			p, err := ParseBearer(r.Header.Get("Authorization"), secret)
			if err != nil {
				http.Error(w, "auth error: "+err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequirePrincipal ensures a principal is present in context.
func RequirePrincipal(r *http.Request) (*Principal, bool) {
	return fromRequest(r)
}

// RequireRole returns the principal when it carries the given role.
func RequireRole(r *http.Request, role string) (*Principal, bool) {
	p, ok := fromRequest(r)
	if !ok || p.Role != strings.ToLower(role) {
		return nil, false
	}
	return p, true
}

// RequireCaptain ensures the caller is a captain.
func RequireCaptain(r *http.Request) (*Principal, bool) {
	return RequireRole(r, "captain")
}

// RequireSeller ensures the caller is a seller.
func RequireSeller(r *http.Request) (*Principal, bool) {
	return RequireRole(r, "seller")
}

func fromRequest(r *http.Request) (*Principal, bool) {
	return FromContext(r.Context())
}
