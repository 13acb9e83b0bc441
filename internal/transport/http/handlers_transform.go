package httptransport

import (
	"net/http"

	"attestor/internal/transform"
)

func (h *Handler) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req transform.TransformRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.engine.Transform(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleBatchTransform(w http.ResponseWriter, r *http.Request) {
	var req transform.BatchTransformRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.engine.BatchTransform(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	// Batch outcomes, including partial and failed, are reported in-band.
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleReverseTransform(w http.ResponseWriter, r *http.Request) {
	var req transform.ReverseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.engine.ReverseTransform(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
