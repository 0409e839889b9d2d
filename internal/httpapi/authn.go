package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"consulta.cl/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer"
)

var errMissingToken = errors.New("missing bearer token")

// requireAuth lets the request through only with a verifiable bearer token;
// the claims end up in the request context.
func (a *API) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, "Token ausente")
			return
		}
		claims, err := a.auth.Tokens().Parse(token)
		if err != nil {
			unauthorized(w, "Token inválido")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", bearer)
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"ok":    false,
		"error": msg,
	})
}

// extractBearerToken splits the header on single spaces: the first field must
// be "Bearer" and the second is the token. Anything after it is ignored.
func extractBearerToken(header string) (string, error) {
	fields := strings.Split(header, " ")
	if len(fields) < 2 || fields[0] != bearer || fields[1] == "" {
		return "", errMissingToken
	}
	return fields[1], nil
}
