package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-ledger/internal/gateway"
	"github.com/mmeshcher/marketplace-ledger/internal/model"
)

type errorResponse struct {
	Error string `json:"error"`
}

var badRequest = []error{
	model.ErrInvalidInput,
	model.ErrNoValidItems,
	model.ErrZeroTotal,
	model.ErrInvalidAction,
	model.ErrInsufficientBalance,
	model.ErrPaymentNotSuccessful,
}

func statusFor(err error) int {
	for _, target := range badRequest {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}

	var gwErr *gateway.Error
	switch {
	case errors.Is(err, gateway.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrOrderNotFound), errors.Is(err, model.ErrWithdrawalNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrAlreadyProcessed):
		return http.StatusOK
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrTimeout), errors.As(err, &gwErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError отображает ошибку сервиса в HTTP-статус. Внутренние ошибки журналируются без раскрытия деталей клиенту.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError {
			msg = http.StatusText(status)
		}
	}

	writeJSON(w, status, errorResponse{Error: msg})
}
