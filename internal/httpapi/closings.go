package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/service"
	"cashrecon/backend/internal/store"
)

func (a *API) handleListClosings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	closings, err := a.service.ListClosings(r.Context(), service.ClosingQuery{
		BranchID: q.Get("branch_id"),
		Status:   q.Get("status"),
		From:     q.Get("from"),
		To:       q.Get("to"),
		Limit:    parsePositiveLimit(q.Get("limit"), 100, store.MaxListLimit),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closings": closings})
}

func (a *API) handleCreateClosing(w http.ResponseWriter, r *http.Request) {
	var req domain.ClosingCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	closing, err := a.service.CreateClosing(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, closing)
}

func (a *API) handleGetClosing(w http.ResponseWriter, r *http.Request) {
	closing, err := a.service.GetClosing(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, closing)
}

func (a *API) handleUpdateClosing(w http.ResponseWriter, r *http.Request) {
	var req domain.ClosingUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	closing, err := a.service.UpdateClosing(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, closing)
}

func (a *API) handleDeleteClosing(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteClosing(r.Context(), mux.Vars(r)["id"]); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSubmitClosing(w http.ResponseWriter, r *http.Request) {
	closing, err := a.service.SubmitClosing(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, closing)
}

func (a *API) handleReceiveCash(w http.ResponseWriter, r *http.Request) {
	var req domain.ReceiveCashRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	closing, err := a.service.ReceiveCash(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, closing)
}

func (a *API) handleCreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req domain.DepositCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	deposit, err := a.service.CreateDeposit(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, deposit)
}

func (a *API) handleListDeposits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bankConfirmed, err := parseOptionalBool(q.Get("bank_confirmed"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	deposits, err := a.service.ListDeposits(r.Context(), service.DepositQuery{
		BranchID:      q.Get("branch_id"),
		Decision:      q.Get("decision"),
		BankConfirmed: bankConfirmed,
		From:          q.Get("from"),
		To:            q.Get("to"),
		Limit:         parsePositiveLimit(q.Get("limit"), 100, store.MaxListLimit),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposits": deposits})
}

func (a *API) handleGetDeposit(w http.ResponseWriter, r *http.Request) {
	deposit, err := a.service.GetDeposit(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deposit)
}

func (a *API) handleApproval(w http.ResponseWriter, r *http.Request) {
	var req domain.ApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	deposit, err := a.service.DecideApproval(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deposit)
}

func (a *API) handleBankConfirm(w http.ResponseWriter, r *http.Request) {
	var req domain.BankConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.service.ConfirmBank(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleStaffConfirm(w http.ResponseWriter, r *http.Request) {
	var req domain.StaffConfirmRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.service.ConfirmStaff(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
