package api

import (
	"fmt"
	"net/http"
	"strings"

	"coursedeck/internal/models"
	"coursedeck/internal/storage"
)

type createDepositRequest struct {
	Amount models.Money `json:"amount"`
}

func (h *Handler) Deposits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		actor, ok := h.requireAccount(w, r)
		if !ok {
			return
		}
		learnerID := actor.ID
		includeHidden := false
		if actor.HasRole(models.RoleAdmin) {
			learnerID = strings.TrimSpace(r.URL.Query().Get("learnerId"))
			includeHidden = r.URL.Query().Get("includeHidden") == "true"
		}
		deposits := h.Store.ListDepositRequests(learnerID, includeHidden)
		response := make([]depositResponse, 0, len(deposits))
		for _, deposit := range deposits {
			response = append(response, newDepositResponse(deposit))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		actor, ok := h.requireAccount(w, r)
		if !ok {
			return
		}
		var req createDepositRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		deposit, err := h.Store.CreateDepositRequest(storage.CreateDepositParams{
			LearnerID: actor.ID,
			Amount:    req.Amount,
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newDepositResponse(deposit))
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) DepositByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/deposits/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("deposit id missing"))
		return
	}
	depositID := parts[0]

	actor, ok := h.requireAccount(w, r)
	if !ok {
		return
	}
	deposit, exists := h.Store.GetDepositRequest(depositID)
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Errorf("deposit request %s not found", depositID))
		return
	}
	isAdmin := actor.HasRole(models.RoleAdmin)

	if len(parts) == 2 {
		switch parts[1] {
		case "image":
			h.depositImage(actor, deposit, w, r)
		case "confirm", "deny":
			h.settleDeposit(deposit.ID, parts[1], isAdmin, w, r)
		default:
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown deposit path"))
		}
		return
	}
	if len(parts) > 2 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown deposit path"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		if deposit.LearnerID != actor.ID && !isAdmin {
			writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
			return
		}
		writeJSON(w, http.StatusOK, newDepositResponse(deposit))
	case http.MethodDelete:
		if !isAdmin {
			writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
			return
		}
		if err := h.Store.HideDepositRequest(depositID); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) depositImage(actor models.Account, deposit models.DepositRequest, w http.ResponseWriter, r *http.Request) {
	isAdmin := actor.HasRole(models.RoleAdmin)
	switch r.Method {
	case http.MethodPost:
		// Only the requesting learner attaches the transfer receipt.
		if deposit.LearnerID != actor.ID {
			writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
			return
		}
		result, done := h.acceptChunk(w, r)
		if !done {
			return
		}
		key, err := newObjectKey(result.Name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !h.putObject(w, r, key, contentTypeForKey(key), result.Data) {
			return
		}
		updated, err := h.Store.SetDepositImage(deposit.ID, key)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newDepositResponse(updated))
	case http.MethodGet:
		if deposit.LearnerID != actor.ID && !isAdmin {
			writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
			return
		}
		if deposit.ImageKey == "" {
			writeError(w, http.StatusNotFound, fmt.Errorf("deposit request %s has no image", deposit.ID))
			return
		}
		h.streamObject(w, r, deposit.ImageKey, contentTypeForKey(deposit.ImageKey))
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) settleDeposit(depositID, action string, isAdmin bool, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if !isAdmin {
		writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
		return
	}
	var (
		deposit models.DepositRequest
		err     error
	)
	if action == "confirm" {
		deposit, err = h.Store.ConfirmDepositRequest(depositID)
	} else {
		deposit, err = h.Store.DenyDepositRequest(depositID)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDepositResponse(deposit))
}
