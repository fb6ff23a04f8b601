package handlers

import (
	"net/http"

	"github.com/upb/realty-dashboard/services"
	"github.com/upb/realty-dashboard/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)

	switch {
	case utils.IsValidationError(err):
		HandleValidationError(w, err, logger)

	case services.IsValidationError(err):
		if err := utils.WriteBadRequest(w, err.Error(), details); err != nil {
			logger.Error("failed to write bad request response", zap.Error(err))
		}

	case services.IsCredentialsInvalidError(err):
		// Never say which half of the credentials was wrong.
		if err := utils.WriteUnauthorized(w, "Invalid username or password"); err != nil {
			logger.Error("failed to write unauthorized response", zap.Error(err))
		}

	case services.IsSessionAbsentError(err):
		if err := utils.WriteUnauthorized(w, "No active session"); err != nil {
			logger.Error("failed to write unauthorized response", zap.Error(err))
		}

	case services.IsSessionExpiredError(err):
		if err := utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse{
			Error:   "unauthorized",
			Reason:  "session_expired",
			Message: "Your session has expired. Please sign in again.",
		}); err != nil {
			logger.Error("failed to write session expired response", zap.Error(err))
		}

	case services.IsGroupLookupError(err), services.IsExternalError(err):
		logger.Warn("identity provider error", zap.Error(err))
		if err := utils.WriteError(w, http.StatusBadGateway, "Identity provider unavailable", details); err != nil {
			logger.Error("failed to write bad gateway response", zap.Error(err))
		}

	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		if err := utils.WriteInternalServerError(w, "An internal error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		if err := utils.WriteInternalServerError(w, "An unexpected error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
