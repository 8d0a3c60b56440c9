package api

import (
	"fmt"
	"net/http"
	"strings"

	"coursedeck/internal/models"
	"coursedeck/internal/storage"
)

type updateAccountRequest struct {
	FullName  *string `json:"fullName"`
	AvatarURL *string `json:"avatarUrl"`
	Role      *string `json:"role"`
}

func (h *Handler) Accounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	includeHidden := r.URL.Query().Get("includeHidden") == "true"
	accounts := h.Store.ListAccounts(includeHidden)
	response := make([]accountResponse, 0, len(accounts))
	for _, account := range accounts {
		response = append(response, newAccountResponse(account))
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) AccountByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/accounts/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("account id missing"))
		return
	}
	accountID := parts[0]

	if len(parts) == 2 {
		switch parts[1] {
		case "enrollments":
			h.accountEnrollments(accountID, w, r)
		case "deposits":
			h.accountDeposits(accountID, w, r)
		default:
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown account path"))
		}
		return
	}
	if len(parts) > 2 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown account path"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		actor, ok := h.requireAccount(w, r)
		if !ok {
			return
		}
		if actor.ID != accountID && !actor.HasRole(models.RoleAdmin) {
			writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
			return
		}
		account, exists := h.Store.GetAccount(accountID)
		if !exists {
			writeError(w, http.StatusNotFound, fmt.Errorf("account %s not found", accountID))
			return
		}
		writeJSON(w, http.StatusOK, newAccountResponse(account))
	case http.MethodPatch:
		actor, ok := h.requireAccount(w, r)
		if !ok {
			return
		}
		var req updateAccountRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		isAdmin := actor.HasRole(models.RoleAdmin)
		if actor.ID != accountID && !isAdmin {
			writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
			return
		}
		// Only administrators may reassign roles.
		if req.Role != nil && !isAdmin {
			writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
			return
		}
		account, err := h.Store.UpdateAccount(accountID, storage.AccountUpdate{
			FullName:  req.FullName,
			AvatarURL: req.AvatarURL,
			Role:      req.Role,
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newAccountResponse(account))
	case http.MethodDelete:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		if err := h.Store.HideAccount(accountID); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PATCH, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) accountEnrollments(accountID string, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	actor, ok := h.requireAccount(w, r)
	if !ok {
		return
	}
	if actor.ID != accountID && !actor.HasRole(models.RoleAdmin) {
		writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
		return
	}
	enrollments := h.Store.ListEnrollments(accountID)
	response := make([]enrollmentResponse, 0, len(enrollments))
	for _, enrollment := range enrollments {
		response = append(response, newEnrollmentResponse(enrollment))
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) accountDeposits(accountID string, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	actor, ok := h.requireAccount(w, r)
	if !ok {
		return
	}
	isAdmin := actor.HasRole(models.RoleAdmin)
	if actor.ID != accountID && !isAdmin {
		writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
		return
	}
	deposits := h.Store.ListDepositRequests(accountID, isAdmin && r.URL.Query().Get("includeHidden") == "true")
	response := make([]depositResponse, 0, len(deposits))
	for _, deposit := range deposits {
		response = append(response, newDepositResponse(deposit))
	}
	writeJSON(w, http.StatusOK, response)
}
