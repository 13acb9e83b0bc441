package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"attestor/internal/attestation/models"
)

func (h *Handler) handleCreateAttestation(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAttestationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp := h.lifecycle.CreateAttestation(r.Context(), &req)
	writeJSON(w, lifecycleStatus(resp, http.StatusCreated), resp)
}

func (h *Handler) handleGetAttestation(w http.ResponseWriter, r *http.Request) {
	a, err := h.lifecycle.GetAttestation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleVerifyAttestation(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyAttestationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.AttestationID = chi.URLParam(r, "id")
	resp := h.lifecycle.VerifyAttestation(r.Context(), &req)
	// A completed verification that found the attestation invalid is still a
	// 200; error statuses are reserved for requests that could not complete.
	status := http.StatusOK
	if len(resp.Errors) > 0 {
		status = lifecycleStatus(resp, http.StatusOK)
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleRevokeAttestation(w http.ResponseWriter, r *http.Request) {
	var req models.RevokeAttestationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.AttestationID = chi.URLParam(r, "id")
	resp := h.lifecycle.RevokeAttestation(r.Context(), &req)
	writeJSON(w, lifecycleStatus(resp, http.StatusOK), resp)
}

func (h *Handler) handleBulkAttestations(w http.ResponseWriter, r *http.Request) {
	var req models.BulkAttestationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp := h.lifecycle.ProcessBulkOperations(r.Context(), &req)
	status := http.StatusOK
	if len(resp.Errors) > 0 {
		status = statusForCode(resp.Errors[0].Code)
	}
	writeJSON(w, status, resp)
}

// lifecycleStatus picks the HTTP status for a lifecycle envelope: success
// status when the operation succeeded, 403 for governance blocks, otherwise
// the first error's mapped status.
func lifecycleStatus(resp *models.AttestationResponse, successStatus int) int {
	if resp.Success {
		return successStatus
	}
	if resp.CulturalClearanceRequired {
		return http.StatusForbidden
	}
	if len(resp.Errors) > 0 {
		return statusForCode(resp.Errors[0].Code)
	}
	return http.StatusInternalServerError
}
