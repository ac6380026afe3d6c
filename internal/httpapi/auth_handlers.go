package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"co2ledger.org/internal/audit"
	"co2ledger.org/internal/auth"
)

type tokenRequest struct {
	Account string   `json:"account"`
	Roles   []string `json:"roles"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type roleRequest struct {
	Name string `json:"name"`
}

type roleMemberRequest struct {
	Account string `json:"account"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	account := strings.TrimSpace(req.Account)
	if account == "" {
		writeError(w, r, http.StatusBadRequest, "account is required")
		return
	}
	roles := make([]string, 0, len(req.Roles))
	for _, role := range req.Roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		// Registered roles are only claimable by their holders.
		if a.roles != nil && a.roles.Exists(role) && !a.roles.HasRole(role, account) {
			writeError(w, r, http.StatusForbidden, "role not held: "+role)
			return
		}
		roles = append(roles, role)
	}

	token, err := auth.GenerateToken(account, roles, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"account":    account,
		"roles":      roles,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	if a.roles == nil {
		writeError(w, r, http.StatusServiceUnavailable, "role registry unavailable")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.roles.CreateRole(req.Name, string(caller)); err != nil {
		handleRoleError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.role.create", map[string]any{"role": req.Name})
	w.Header().Set("Location", "/v1/roles/"+req.Name)
	writeJSON(w, http.StatusCreated, map[string]any{"name": req.Name, "owner": caller})
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	if a.roles == nil {
		writeError(w, r, http.StatusServiceUnavailable, "role registry unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) > 3 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	name := parts[0]

	// GET /v1/roles/{name}/members/{account} answers membership.
	if len(parts) == 3 && parts[1] == "members" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"role":     name,
			"account":  parts[2],
			"has_role": a.roles.HasRole(name, parts[2]),
		})
		return
	}
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req roleMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var err error
	var event string
	switch parts[1] {
	case "grant":
		err = a.roles.Grant(name, string(caller), req.Account)
		event = "auth.role.grant"
	case "revoke":
		err = a.roles.Revoke(name, string(caller), req.Account)
		event = "auth.role.revoke"
	case "transfer":
		err = a.roles.TransferOwnership(name, string(caller), req.Account)
		event = "auth.role.transfer"
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		handleRoleError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"role":    name,
		"account": req.Account,
	})
	writeJSON(w, http.StatusOK, map[string]any{"role": name, "account": req.Account})
}

func handleRoleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidMember):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotRoleOwner):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrRoleNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrRoleExists):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
