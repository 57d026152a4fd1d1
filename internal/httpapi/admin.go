package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/service"
	"cashrecon/backend/internal/store"
)

func (a *API) handleListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := a.service.ListBranches(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branches": branches})
}

func (a *API) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var req domain.BranchCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	branch, err := a.service.CreateBranch(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, branch)
}

func (a *API) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	branch, err := a.service.GetBranch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, branch)
}

func (a *API) handleUpdateBranch(w http.ResponseWriter, r *http.Request) {
	var req domain.BranchUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	branch, err := a.service.UpdateBranch(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, branch)
}

func (a *API) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteBranch(r.Context(), mux.Vars(r)["id"]); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.service.ListUsers(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	user, err := a.service.CreateUser(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.UserStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	user, err := a.service.UpdateUserStatus(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleListBankAccounts(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := parseOptionalBool(r.URL.Query().Get("active"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	accounts, err := a.service.ListBankAccounts(r.Context(), activeOnly != nil && *activeOnly)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bankAccounts": accounts})
}

func (a *API) handleCreateBankAccount(w http.ResponseWriter, r *http.Request) {
	var req domain.BankAccountCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	account, err := a.service.CreateBankAccount(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (a *API) handleBankAccountActive(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	account, err := a.service.SetBankAccountActive(r.Context(), vars["id"], vars["action"] == "activate")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (a *API) handleListSystemConfig(w http.ResponseWriter, r *http.Request) {
	configs, err := a.service.ListSystemConfig(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": configs})
}

func (a *API) handleGetSystemConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.service.GetSystemConfig(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) handleSetSystemConfig(w http.ResponseWriter, r *http.Request) {
	var req domain.SystemConfigSetRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	cfg, err := a.service.SetSystemConfig(r.Context(), mux.Vars(r)["key"], req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logs, err := a.service.ListAuditLogs(r.Context(), service.AuditQuery{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
		BranchID:   q.Get("branch_id"),
		From:       q.Get("from"),
		To:         q.Get("to"),
		Limit:      parsePositiveLimit(q.Get("limit"), 100, store.MaxListLimit),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
