package domain

import (
	"net/http"
	"time"
)

// IdempotencyStatus — состояние ключа Idempotency-Key.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing — первый запрос с ключом ещё выполняется.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone — сохранён успешный ответ.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed — сохранён отказ клиенту (4xx), повтор получит тот же отказ.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// StoredResponse — HTTP-ответ витрины, отдаваемый повторно на тот же ключ.
type StoredResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Clone копирует тело, чтобы хранилище и обработчик не делили один буфер.
func (r StoredResponse) Clone() StoredResponse {
	r.Body = append([]byte(nil), r.Body...)
	return r
}

// ResolveIdempotency решает судьбу ключа по коду ответа.
// 5xx и отсутствующий код не сохраняются: клиент повторит запрос с тем же ключом.
func ResolveIdempotency(statusCode int) (IdempotencyStatus, bool) {
	switch {
	case statusCode <= 0, statusCode >= http.StatusInternalServerError:
		return "", false
	case statusCode >= http.StatusBadRequest:
		return IdempotencyStatusFailed, true
	default:
		return IdempotencyStatusDone, true
	}
}

// IdempotencyRecord — запись о POST /api/orders или /api/checkout с Idempotency-Key.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	Status      IdempotencyStatus
	Response    StoredResponse
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Expired — срок ключа вышел, но воркер очистки его ещё не удалил.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(now)
}

// Replayable — сохранённый ответ можно отдать вместо повторной обработки.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status != IdempotencyStatusProcessing && r.Response.StatusCode > 0
}

// Clone возвращает копию записи с собственным телом ответа.
func (r IdempotencyRecord) Clone() IdempotencyRecord {
	r.Response = r.Response.Clone()
	return r
}
