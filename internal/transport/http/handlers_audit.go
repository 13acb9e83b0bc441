package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"attestor/internal/audit"
	"attestor/internal/domain"
	dErrors "attestor/pkg/domainerrors"
)

func (h *Handler) handleAuditEntries(w http.ResponseWriter, r *http.Request) {
	q, err := auditQueryFromURL(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.audit.QueryAuditTrail(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *Handler) handleAuditReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := periodFromURL(r)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := h.audit.GenerateReport(r.Context(), audit.Period{From: from, To: to}, r.URL.Query().Get("requestedBy"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	format, err := audit.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, dErrors.NewField(dErrors.CodeValidation, "format", err.Error()))
		return
	}
	q, err := auditQueryFromURL(r)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := h.audit.ExportAuditData(r.Context(), q, format)
	if err != nil {
		writeError(w, err)
		return
	}
	contentType := map[audit.ExportFormat]string{
		audit.FormatJSON: "application/json",
		audit.FormatCSV:  "text/csv",
		audit.FormatXML:  "application/xml",
	}[format]
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleAuditValidate(w http.ResponseWriter, r *http.Request) {
	report, err := h.audit.ValidateIntegrity(r.Context(), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func auditQueryFromURL(r *http.Request) (audit.Query, error) {
	var q audit.Query
	params := r.URL.Query()

	if v := params.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, dErrors.NewField(dErrors.CodeValidation, "from", "must be RFC3339")
		}
		q.From = &t
	}
	if v := params.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, dErrors.NewField(dErrors.CodeValidation, "to", "must be RFC3339")
		}
		q.To = &t
	}
	for _, t := range params["eventType"] {
		q.EventTypes = append(q.EventTypes, domain.EventType(t))
	}
	q.AttestationIDs = params["attestationId"]
	q.Actor = params.Get("actor")
	q.Result = domain.Result(params.Get("result"))
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, dErrors.NewField(dErrors.CodeValidation, "limit", "must be a non-negative integer")
		}
		q.Limit = n
	}
	if v := params.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, dErrors.NewField(dErrors.CodeValidation, "offset", "must be a non-negative integer")
		}
		q.Offset = n
	}
	q.Descending = params.Get("order") == "desc"
	return q, nil
}

func periodFromURL(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from, to := now.AddDate(0, -1, 0), now
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, dErrors.NewField(dErrors.CodeValidation, "from", "must be RFC3339")
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, dErrors.NewField(dErrors.CodeValidation, "to", "must be RFC3339")
		}
		to = t
	}
	if to.Before(from) {
		return from, to, dErrors.NewField(dErrors.CodeValidation, "to", "must not precede from")
	}
	return from, to, nil
}
