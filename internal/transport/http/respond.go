package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "attestor/pkg/domainerrors"
	"attestor/pkg/sentinel"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    dErrors.Code `json:"code"`
	Field   string       `json:"field,omitempty"`
	Message string       `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates domain errors into the JSON error envelope. Sentinel
// and coded errors map to specific statuses; anything else is a 500.
func writeError(w http.ResponseWriter, err error) {
	var de *dErrors.Error
	if errors.As(err, &de) {
		writeJSON(w, statusForCode(de.Code), errorEnvelope{Error: errorBody{
			Code: de.Code, Field: de.Field, Message: de.Message,
		}})
		return
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: errorBody{
			Code: dErrors.CodeNotFound, Message: err.Error(),
		}})
	case errors.Is(err, sentinel.ErrAlreadyRevoked), errors.Is(err, sentinel.ErrConflict):
		writeJSON(w, http.StatusConflict, errorEnvelope{Error: errorBody{
			Code: dErrors.CodeState, Message: err.Error(),
		}})
	default:
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorBody{
			Code: dErrors.CodeInternal, Message: "internal error",
		}})
	}
}

func statusForCode(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeGovernance:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeState:
		return http.StatusConflict
	case dErrors.CodeCryptographic, dErrors.CodeIntegrity, dErrors.CodeTransformation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return dErrors.New(dErrors.CodeValidation, "malformed request body: "+err.Error())
	}
	return nil
}
