// Package httputil translates domain results into JSON HTTP responses.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "mediaguard/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies decoded by DecodeJSON.
const maxBodyBytes = 8 << 20

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes a bounded JSON body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON body")
	}
	return nil
}

// WriteError maps a coded domain error to a status and JSON body. Internal
// errors never expose their message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status, name := statusFor(code)

	body := map[string]string{"error": name}
	var de *dErrors.Error
	if code != dErrors.CodeInternal && errors.As(err, &de) {
		body["error_description"] = de.Message
	}
	WriteJSON(w, status, body)
}

func statusFor(code dErrors.Code) (int, string) {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation:
		return http.StatusBadRequest, "bad_request"
	case dErrors.CodeProofInvalid:
		return http.StatusUnprocessableEntity, string(code)
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized, string(code)
	case dErrors.CodeForbidden:
		return http.StatusForbidden, string(code)
	case dErrors.CodeNotFound:
		return http.StatusNotFound, string(code)
	case dErrors.CodeDuplicate, dErrors.CodeConflict, dErrors.CodeInvalidState:
		return http.StatusConflict, string(code)
	case dErrors.CodeUnavailable, dErrors.CodeNoQuorum, dErrors.CodeUnreachable:
		return http.StatusServiceUnavailable, string(code)
	case dErrors.CodeDeadlineEnded:
		return http.StatusGone, string(code)
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
