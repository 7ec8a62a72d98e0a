package httpapi

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/radieske/opinio/internal/api/dto"
	"github.com/radieske/opinio/internal/market"
)

// writeError traduz erros de domínio para status HTTP e corpo {"message": ...}
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *market.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		req, avail := insufficient.Required.InexactFloat64(), insufficient.Available.InexactFloat64()
		writeJSON(w, http.StatusPaymentRequired, dto.ErrorResponse{
			Message:       "Insufficient balance",
			NeedsRecharge: true,
			Required:      &req,
			Available:     &avail,
		})
	case errors.Is(err, market.ErrValidation):
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Message: err.Error()})
	case errors.Is(err, market.ErrAlreadyVoted):
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Message: "You have already voted on this event", HasVoted: true})
	case errors.Is(err, market.ErrAlreadyEnded):
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Message: "Event has already ended"})
	case errors.Is(err, market.ErrEventClosed):
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Message: "Event is no longer open for voting"})
	case errors.Is(err, market.ErrNotFound):
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Message: err.Error()})
	case errors.Is(err, market.ErrAuth):
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Message: "Invalid credentials"})
	case errors.Is(err, market.ErrForbidden):
		writeJSON(w, http.StatusForbidden, dto.ErrorResponse{Message: "Not allowed"})
	case errors.Is(err, market.ErrConflict):
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Message: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, dto.ErrorResponse{Message: "request timed out"})
	default:
		a.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Message: "internal server error"})
	}
}
