package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"prodtrack.org/internal/auth"
)

type registerRequest struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Roles    []string `json:"roles"`
}

// updateUserRequest carries username and password only so that attempts to
// change them are reported as such instead of as unknown fields.
type updateUserRequest struct {
	Username *string  `json:"username"`
	Password *string  `json:"password"`
	Email    *string  `json:"email"`
	FullName *string  `json:"full_name"`
	Roles    []string `json:"roles"`
	Active   *bool    `json:"is_active"`
	Disabled *bool    `json:"disabled"`
}

type decisionResponse struct {
	Message string       `json:"message"`
	User    auth.Account `json:"user"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.workflow.Register(r.Context(), auth.RegisterRequest{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		FullName: req.FullName,
		Roles:    req.Roles,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", acct.ID))
	writeJSON(w, http.StatusCreated, acct)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	var status auth.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status = auth.Status(strings.ToLower(raw))
		if !status.Valid() {
			writeError(w, r, http.StatusBadRequest, "invalid status filter")
			return
		}
	}
	accounts, err := a.accounts.List(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	items := make([]auth.Account, 0, len(accounts))
	for _, acct := range accounts {
		if status != "" && acct.Status != status {
			continue
		}
		items = append(items, acct)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	id, ok := pathID(r)
	if id != principal.ID() && !principal.HasRole(auth.RoleAdmin) {
		writeError(w, r, http.StatusForbidden, "not enough permissions")
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}
	acct, err := a.accounts.Get(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password != nil {
		handleAuthError(w, r, fmt.Errorf("%w: use PUT /v1/auth/password", auth.ErrImmutableField))
		return
	}
	upd := auth.AccountUpdate{
		Username: req.Username,
		Email:    req.Email,
		FullName: req.FullName,
		Roles:    req.Roles,
		Active:   req.Active,
		Disabled: req.Disabled,
	}
	if upd.Empty() {
		writeError(w, r, http.StatusBadRequest, "no fields to update")
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}
	acct, err := a.accounts.Update(r.Context(), id, upd)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}
	if err := a.accounts.Delete(r.Context(), principal, id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}
	acct, err := a.workflow.Approve(r.Context(), principal, id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{
		Message: fmt.Sprintf("User '%s' approved successfully", acct.Username),
		User:    acct,
	})
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}
	acct, err := a.workflow.Reject(r.Context(), principal, id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{
		Message: fmt.Sprintf("User '%s' rejected", acct.Username),
		User:    acct,
	})
}
