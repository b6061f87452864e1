package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"compliancehub/internal/engine/auth"
)

type principalKey struct{}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

func currentPrincipal(ctx context.Context) (auth.Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.UserID != 0 {
		return p, nil
	}
	return auth.Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// requireWrite returns the caller when their role may modify records.
func (h handlers) requireWrite(ctx context.Context) (auth.Principal, huma.StatusError) {
	p, authErr := currentPrincipal(ctx)
	if authErr != nil {
		return p, authErr
	}
	if err := h.auth.CanWrite(p); err != nil {
		return p, h.handleError(err)
	}
	return p, nil
}

func (h handlers) requireAdmin(ctx context.Context) (auth.Principal, huma.StatusError) {
	p, authErr := currentPrincipal(ctx)
	if authErr != nil {
		return p, authErr
	}
	if err := h.auth.CanAdmin(p); err != nil {
		return p, h.handleError(err)
	}
	return p, nil
}

// publicPaths are the API routes reachable without a bearer token.
func publicPaths(basePath string) map[string]bool {
	paths := map[string]bool{}
	for _, p := range []string{
		"health",
		"openapi.json",
		"auth/login",
		"auth/register",
		"auth/verify-email",
		"auth/password-reset",
		"auth/password-reset/confirm",
	} {
		paths[path.Join(basePath, p)] = true
	}
	return paths
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, svc auth.Service) func(http.Handler) http.Handler {
	public := publicPaths(basePath)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if !strings.HasPrefix(req.URL.Path, basePath) || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			token, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			principal, err := svc.ParseJWT(token)
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
