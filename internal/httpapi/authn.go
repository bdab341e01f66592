package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"minerva.org/internal/auth"
	"minerva.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// withAuth validates the bearer token on protected routes, resolves the live
// user and stashes the principal in the request context. Failures map to
// stable machine-readable codes so clients can distinguish an expired token
// from a revoked session.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			obs.ObserveTokenValidation("missing")
			writeError(w, r, http.StatusUnauthorized, "MISSING_TOKEN", err.Error())
			return
		}

		principal, err := a.svc.Guard().ValidateAccess(r.Context(), token)
		if err != nil {
			status, code := classifyAuthError(err)
			writeError(w, r, status, code, err.Error())
			return
		}
		obs.ObserveTokenValidation("ok")

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func classifyAuthError(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		obs.ObserveTokenValidation("expired")
		return http.StatusUnauthorized, "TOKEN_EXPIRED"
	case errors.Is(err, auth.ErrTokenVersionMismatch):
		obs.ObserveTokenValidation("version_mismatch")
		return http.StatusUnauthorized, "TOKEN_VERSION_MISMATCH"
	case errors.Is(err, auth.ErrNotFound):
		obs.ObserveTokenValidation("user_not_found")
		return http.StatusUnauthorized, "USER_NOT_FOUND"
	case errors.Is(err, auth.ErrUserInactive), errors.Is(err, auth.ErrUserSuspended):
		obs.ObserveTokenValidation("user_inactive")
		return http.StatusForbidden, "USER_INACTIVE"
	case errors.Is(err, auth.ErrTokenInvalid):
		obs.ObserveTokenValidation("invalid")
		return http.StatusUnauthorized, "TOKEN_INVALID"
	default:
		obs.ObserveTokenValidation("error")
		return http.StatusInternalServerError, "AUTH_ERROR"
	}
}

// ensurePermission authorizes the request against the caller's roles.
// Responds with INSUFFICIENT_PERMISSION and returns false when denied.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, permission string) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "MISSING_TOKEN", "authentication required")
		return false
	}
	query, err := auth.ParsePermissionName(permission)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "AUTH_ERROR", "invalid permission requirement")
		return false
	}
	if !a.svc.Evaluator().HasPermission(principal.User.Roles(), query) {
		obs.ObservePermissionCheck("denied")
		writeError(w, r, http.StatusForbidden, "INSUFFICIENT_PERMISSION",
			"permission denied: "+permission)
		return false
	}
	obs.ObservePermissionCheck("granted")
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
