package httpsvc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
	"github.com/vladislavdragonenkov/dormside/internal/service/lifecycle"
)

// Машинные коды ошибок в теле ответа.
const (
	CodeValidation          = "validation_error"
	CodeInvalidAmount       = "invalid_amount"
	CodeUnauthorized        = "unauthorized"
	CodeOrdersClosed        = "orders_closed"
	CodeNotFound            = "not_found"
	CodeReconciliation      = "reconciliation_failed"
	CodePaymentIncomplete   = "payment_incomplete"
	CodeInvalidTransition   = "invalid_transition"
	CodeIdempotencyConflict = "idempotency_conflict"
	CodeGateway             = "gateway_error"
	CodeStorageUnavailable  = "storage_unavailable"
)

const genericRetryMessage = "Service temporarily unavailable, please retry"

type apiError struct {
	status  int
	code    string
	message string
}

// classify сводит доменную ошибку к HTTP-статусу, коду и сообщению для клиента.
func classify(err error) apiError {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		return apiError{http.StatusBadRequest, CodeInvalidAmount, "Invalid amount"}
	case errors.Is(err, domain.ErrCartEmpty):
		return apiError{http.StatusBadRequest, CodeValidation, "Cart is empty"}
	case errors.Is(err, domain.ErrValidation):
		return apiError{http.StatusBadRequest, CodeValidation, err.Error()}
	case errors.Is(err, domain.ErrUnauthorized):
		return apiError{http.StatusUnauthorized, CodeUnauthorized, "Unauthorized"}
	case errors.Is(err, domain.ErrOrdersClosed):
		return apiError{http.StatusForbidden, CodeOrdersClosed, "Orders are closed"}
	case errors.Is(err, domain.ErrOrderNotFound):
		return apiError{http.StatusNotFound, CodeNotFound, "Order not found"}
	case errors.Is(err, domain.ErrReconciliation):
		return apiError{http.StatusConflict, CodeReconciliation, err.Error()}
	case errors.Is(err, domain.ErrPaymentIncomplete):
		return apiError{http.StatusConflict, CodePaymentIncomplete, err.Error()}
	case errors.Is(err, domain.ErrInvalidTransition):
		return apiError{http.StatusConflict, CodeInvalidTransition, err.Error()}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch), errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return apiError{http.StatusConflict, CodeIdempotencyConflict, err.Error()}
	case errors.Is(err, domain.ErrGateway):
		return apiError{http.StatusInternalServerError, CodeGateway, gatewayMessage(err)}
	default:
		return apiError{http.StatusInternalServerError, CodeStorageUnavailable, genericRetryMessage}
	}
}

// gatewayMessage отдаёт клиенту текст провайдера без обёрток сервиса.
func gatewayMessage(err error) string {
	var intentErr *lifecycle.IntentError
	if errors.As(err, &intentErr) && intentErr.Err != nil {
		err = intentErr.Err
	}
	return err.Error()
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := classify(err)

	logger := s.logger.WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": apiErr.status,
		"code":   apiErr.code,
	})
	if apiErr.status >= http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
	} else {
		logger.WithError(err).Debug("request rejected")
	}

	payload := map[string]any{
		"error": sanitize(apiErr.message, 512),
		"code":  apiErr.code,
	}
	if requestID := middleware.GetReqID(r.Context()); requestID != "" {
		payload["request_id"] = requestID
	}

	var intentErr *lifecycle.IntentError
	if errors.As(err, &intentErr) {
		payload["orderId"] = intentErr.OrderID
	}
	if domain.IsRetryable(err) {
		payload["retryable"] = true
	}

	writeJSON(w, apiErr.status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func sanitize(value string, limit int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
