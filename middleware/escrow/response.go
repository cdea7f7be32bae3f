package escrow

import (
	"encoding/json"
	"errors"
	"net/http"

	"escrow-backend/core/escrow"
	"escrow-backend/ipfs"

	"github.com/rs/zerolog/log"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error sends a standardized error response
func Error(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

// statusFor maps an escrow error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case "TaskNotOpen", "TaskNotClaimed", "WorkNotSubmitted", "CannotCancel", "AccountInUse", "NonZeroBalance":
		return http.StatusConflict
	case "Unauthorized", "NotAssignedAgent", "OwnerMismatch":
		return http.StatusForbidden
	case "TaskNotFound", "AccountNotFound":
		return http.StatusNotFound
	case "InsufficientFunds":
		return http.StatusPaymentRequired
	case "InvalidSeeds", "InvalidLayout", "InvalidRecord", "AmountOverflow":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the status matching its escrow error code.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ipfs.ErrTooLarge):
		Error(w, http.StatusRequestEntityTooLarge, "ContentTooLarge", err.Error())
		return
	case errors.Is(err, ipfs.ErrEmpty):
		Error(w, http.StatusBadRequest, "ContentEmpty", err.Error())
		return
	case errors.Is(err, ipfs.ErrDigestMismatch):
		Error(w, http.StatusBadGateway, "DigestMismatch", err.Error())
		return
	}
	code := escrow.ErrorCode(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("escrow request failed")
		Error(w, status, code, "internal error")
		return
	}
	Error(w, status, code, err.Error())
}

func badRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, "BadRequest", message)
}
