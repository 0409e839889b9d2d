package httpapi

import (
	"errors"
	"net/http"

	"consulta.cl/internal/audit"
	"consulta.cl/internal/auth"
	"consulta.cl/internal/customers"
	"consulta.cl/internal/obs"
)

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		unauthorized(w, "Token ausente")
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	switch err := a.auth.Authorize(r.Context(), claims, auth.PermCustomerLookup); {
	case errors.Is(err, auth.ErrForbidden):
		obs.ObserveLookup("forbidden")
		writeError(w, r, http.StatusForbidden, "Sin permiso")
		return
	case err != nil:
		obs.ObserveLookup("error")
		obs.Error("authorize lookup failed", err, map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	rut := r.URL.Query().Get("rut")
	c, err := a.customers.LookupByRUT(r.Context(), uid, rut)
	switch {
	case errors.Is(err, customers.ErrMissingRUT):
		obs.ObserveLookup("bad_request")
		writeError(w, r, http.StatusBadRequest, "Falta rut")
		return
	case errors.Is(err, customers.ErrNotFound):
		obs.ObserveLookup("not_found")
		writeError(w, r, http.StatusNotFound, "Cliente no encontrado")
		return
	case err != nil:
		obs.ObserveLookup("error")
		obs.Error("customer lookup failed", err, map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	obs.ObserveLookup("ok")
	_ = audit.LogEvent(r.Context(), "clientes.consulta", map[string]any{
		"cliente_id": c.ID,
	})
	writeJSON(w, http.StatusOK, c)
}
