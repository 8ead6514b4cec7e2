package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/pkg/logger"
	"github.com/kailera/acertaia-api/pkg/utils"
)

// StatusFor maps an application error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, apperrors.ErrValidation),
		errors.Is(err, apperrors.ErrBadRequest),
		errors.Is(err, apperrors.ErrAgentExecution),
		errors.Is(err, apperrors.ErrTimeout):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrDuplicate), errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperrors.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	utils.WriteJSONResponse(w, status, model.APIResponse{Success: true, Data: data})
}

// writeError writes the error envelope. Internal errors are logged and
// their details hidden from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error, data interface{}) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		message = "internal error"
	}
	utils.WriteJSONResponse(w, status, model.APIResponse{Success: false, Message: message, Data: data})
}
