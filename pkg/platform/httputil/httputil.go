package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "trustnet/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies; every request type here is a small JSON object.
const maxBodyBytes = 1 << 20

// Validatable is implemented by request bodies that normalise and check themselves.
type Validatable interface {
	Validate() error
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to its HTTP status and writes the error envelope.
// Internal errors never leak their description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := StatusFor(code)

	body := map[string]string{"error": string(code)}
	if de, ok := dErrors.As(err); ok && status != http.StatusInternalServerError {
		body["error_description"] = de.Message
		for k, v := range de.Details {
			if k == "error" || k == "error_description" {
				continue
			}
			body[k] = v
		}
	}
	WriteJSON(w, status, body)
}

// StatusFor returns the HTTP status for a domain error code.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeBadRequest,
		dErrors.CodeInvalidType, dErrors.CodeInvalidRegion, dErrors.CodeMissingEndpoint:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden,
		dErrors.CodeConstitutionalBlock, dErrors.CodeMultiPartyRequired,
		dErrors.CodeSelfApprovalReject, dErrors.CodeRoleMismatch, dErrors.CodeCollusionDetected:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeInvalidTransition:
		return http.StatusConflict
	case dErrors.CodeInsufficientValidators:
		return http.StatusUnprocessableEntity
	case dErrors.CodeApprovalRateLimited:
		return http.StatusTooManyRequests
	case dErrors.CodeUnavailable, dErrors.CodeTamperDetected:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DecodeAndPrepare decodes a JSON body into T and runs its Validate method.
// On failure it writes the error response and returns ok=false.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	var req T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode request body",
			"error", err,
			"request_id", requestID,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return nil, false
	}
	if err := PT(&req).Validate(); err != nil {
		logger.WarnContext(ctx, "invalid request",
			"error", err,
			"request_id", requestID,
		)
		WriteError(w, err)
		return nil, false
	}
	return &req, true
}
