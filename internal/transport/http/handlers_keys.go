package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"attestor/internal/signing"
)

func (h *Handler) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	meta, err := signing.GenerateKey(r.Context(), h.keys)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (h *Handler) handleRetireKey(w http.ResponseWriter, r *http.Request) {
	if err := signing.RetireKey(r.Context(), h.keys, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(signing.KeyInactive)})
}

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}
