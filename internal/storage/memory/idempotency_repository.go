package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

type idempotencyRepositoryInMemory struct {
	mu   sync.Mutex
	keys map[string]domain.IdempotencyRecord
	now  func() time.Time
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyRepositoryInMemory{
		keys: make(map[string]domain.IdempotencyRecord),
		now:  time.Now,
	}
}

func (r *idempotencyRepositoryInMemory) Claim(ctx context.Context, key, requestHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	key, err := normalizeKey(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if requestHash = strings.TrimSpace(requestHash); requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.keys[key]; ok {
		if existing.RequestHash != requestHash {
			return existing.Clone(), domain.ErrIdempotencyHashMismatch
		}
		return existing.Clone(), domain.ErrIdempotencyKeyAlreadyExists
	}

	now := r.now().UTC()
	if expiresAt.IsZero() {
		expiresAt = now.Add(24 * time.Hour)
	}
	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.keys[key] = record
	return record, nil
}

func (r *idempotencyRepositoryInMemory) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key, err := normalizeKey(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.keys[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return record.Clone(), nil
}

func (r *idempotencyRepositoryInMemory) Finish(ctx context.Context, key string, status domain.IdempotencyStatus, resp domain.StoredResponse) error {
	key, err := normalizeKey(ctx, key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.keys[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.Response = resp.Clone()
	record.UpdatedAt = r.now().UTC()
	r.keys[key] = record
	return nil
}

// Delete освобождает ключ; отсутствующий ключ не считается ошибкой.
func (r *idempotencyRepositoryInMemory) Delete(ctx context.Context, key string) error {
	key, err := normalizeKey(ctx, key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, key)
	return nil
}

// DeleteExpired удаляет ключи с истёкшим сроком, самые старые первыми.
func (r *idempotencyRepositoryInMemory) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if before.IsZero() {
		before = r.now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range r.keys {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, record := range expired {
		delete(r.keys, record.Key)
	}
	return len(expired), nil
}

func normalizeKey(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key = strings.TrimSpace(key); key == "" {
		return "", domain.ErrIdempotencyKeyRequired
	}
	return key, nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepositoryInMemory)(nil)
