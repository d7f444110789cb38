package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/sxrx-edge/internal/clinical"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// backendErrorResponse is what pages render for a failed backend call.
type backendErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// writeBackendError maps a clinical error to a status and the shopper-facing
// message for its code.
func writeBackendError(w http.ResponseWriter, err error) {
	var ce *clinical.Error
	if !errors.As(err, &ce) {
		ce = &clinical.Error{Code: clinical.CodeUnknown}
	}
	status := ce.Status
	switch {
	case status >= 400:
	case ce.Code == clinical.CodeTimeout:
		status = http.StatusGatewayTimeout
	case ce.Code == clinical.CodeValidation:
		status = http.StatusBadRequest
	default:
		status = http.StatusBadGateway
	}
	if ce.Code == clinical.CodeNetwork {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, backendErrorResponse{
		Error:     string(ce.Code),
		Message:   ce.Message(),
		Retryable: ce.Retryable(),
	})
}
