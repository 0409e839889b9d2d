package httpapi

import (
	"errors"
	"net/http"

	"consulta.cl/internal/audit"
	"consulta.cl/internal/auth"
	"consulta.cl/internal/obs"
)

type loginRequest struct {
	Identifier string `json:"usuarioOEmail"`
	Password   string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type meResponse struct {
	OK    bool   `json:"ok"`
	UID   string `json:"uid"`
	RolID string `json:"rolId"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	session, err := a.auth.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			obs.ObserveLogin("denied")
			_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
				"identifier_sha256": audit.Fingerprint(req.Identifier),
			})
			writeError(w, r, http.StatusUnauthorized, "Credenciales")
			return
		}
		obs.ObserveLogin("error")
		obs.Error("login failed", err, map[string]any{"request_id": RequestIDFromContext(r.Context())})
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	obs.ObserveLogin("ok")
	_ = audit.LogEvent(r.Context(), "auth.login.succeeded", map[string]any{
		"uid":        session.User.ID,
		"rol_id":     session.User.RoleID,
		"expires_at": session.ExpiresAt,
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: session.Token})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		unauthorized(w, "Token ausente")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{OK: true, UID: claims.UID, RolID: claims.RolID})
}
