package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

const defaultKeyTTL = 24 * time.Hour

// Outcome — решение по входящему запросу с Idempotency-Key.
type Outcome struct {
	// Replay — ответ уже сохранён, обработчик вызывать не нужно.
	Replay   bool
	Response domain.StoredResponse
}

// Guard дедуплицирует повторные POST-запросы с одинаковым Idempotency-Key.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// NewGuard создаёт Guard; ttl <= 0 означает 24 часа.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{repo: repo, ttl: ttl, now: time.Now, logger: logger}
}

// HashRequest строит отпечаток запроса: метод, путь и тело.
func HashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{'\n'})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin регистрирует ключ. Если запрос с этим ключом уже завершён, возвращает сохранённый ответ.
// Ошибки ErrIdempotencyHashMismatch и ErrIdempotencyKeyAlreadyExists означают конфликт.
func (g *Guard) Begin(ctx context.Context, key, requestHash string) (Outcome, error) {
	now := g.now().UTC()

	for attempt := 0; attempt < 2; attempt++ {
		existing, err := g.repo.Claim(ctx, key, requestHash, now.Add(g.ttl))
		switch {
		case err == nil:
			return Outcome{}, nil
		case errors.Is(err, domain.ErrIdempotencyHashMismatch), errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			if existing.Expired(now) {
				// Просроченный ключ ещё не вычищен воркером: освобождаем и регистрируем заново.
				if delErr := g.repo.Delete(ctx, key); delErr != nil && !errors.Is(delErr, domain.ErrIdempotencyKeyNotFound) {
					return Outcome{}, delErr
				}
				continue
			}
			if errors.Is(err, domain.ErrIdempotencyHashMismatch) {
				return Outcome{}, err
			}
			if !existing.Replayable() {
				return Outcome{}, fmt.Errorf("%w: request is still being processed", domain.ErrIdempotencyKeyAlreadyExists)
			}
			g.logger.WithFields(log.Fields{
				"idempotency_key": key,
				"status_code":     existing.Response.StatusCode,
			}).Debug("replaying stored response")
			return Outcome{Replay: true, Response: existing.Response}, nil
		default:
			return Outcome{}, err
		}
	}

	return Outcome{}, fmt.Errorf("%w: could not register key", domain.ErrIdempotencyKeyAlreadyExists)
}

// Complete сохраняет ответ: 2xx/3xx — done, 4xx — failed; 5xx освобождает ключ для повтора.
func (g *Guard) Complete(ctx context.Context, key string, resp domain.StoredResponse) error {
	status, keep := domain.ResolveIdempotency(resp.StatusCode)
	if !keep {
		return g.Release(ctx, key)
	}
	return g.repo.Finish(ctx, key, status, resp)
}

// Release освобождает ключ без сохранения ответа.
func (g *Guard) Release(ctx context.Context, key string) error {
	err := g.repo.Delete(ctx, key)
	if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		return nil
	}
	return err
}
