package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

const idempotencyColumns = `key, request_hash, status, response_status, response_content_type, response_body, expires_at, created_at, updated_at`

type idempotencyRepository struct {
	store *Store
	now   func() time.Time
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{store: store, now: time.Now}
}

// Claim вставляет ключ через ON CONFLICT DO NOTHING; при конфликте читает существующую запись.
func (r *idempotencyRepository) Claim(ctx context.Context, key, requestHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	if key = strings.TrimSpace(key); key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash = strings.TrimSpace(requestHash); requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now().UTC()
	if expiresAt.IsZero() {
		expiresAt = now.Add(24 * time.Hour)
	}

	conn, opCtx, release, err := r.store.acquire(ctx)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	defer release()

	record, err := scanIdempotency(conn.QueryRowContext(opCtx, `
		INSERT INTO idempotency_keys (key, request_hash, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO NOTHING
		RETURNING `+idempotencyColumns,
		key, requestHash, string(domain.IdempotencyStatusProcessing), expiresAt, now,
	))
	switch {
	case err == nil:
		return record, nil
	case !errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, unavailable("claim idempotency key", err)
	}

	existing, err := r.get(opCtx, conn, key)
	if err != nil {
		// Ключ успели удалить между INSERT и SELECT: для клиента это всё ещё конфликт.
		if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		return domain.IdempotencyRecord{}, err
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	if key = strings.TrimSpace(key); key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	conn, opCtx, release, err := r.store.acquire(ctx)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	defer release()

	return r.get(opCtx, conn, key)
}

func (r *idempotencyRepository) get(ctx context.Context, conn *sql.Conn, key string) (domain.IdempotencyRecord, error) {
	record, err := scanIdempotency(conn.QueryRowContext(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, unavailable("get idempotency key", err)
	}
	return record, nil
}

func (r *idempotencyRepository) Finish(ctx context.Context, key string, status domain.IdempotencyStatus, resp domain.StoredResponse) error {
	if key = strings.TrimSpace(key); key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if !status.Valid() {
		return fmt.Errorf("invalid idempotency status %q", status)
	}

	conn, opCtx, release, err := r.store.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	res, err := conn.ExecContext(opCtx, `
		UPDATE idempotency_keys
		SET status = $2,
		    response_status = $3,
		    response_content_type = $4,
		    response_body = $5,
		    updated_at = $6
		WHERE key = $1
	`, key, string(status), resp.StatusCode, resp.ContentType, resp.Body, r.now().UTC())
	if err != nil {
		return unavailable("finish idempotency key", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("idempotency rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

// Delete освобождает ключ; отсутствующий ключ не считается ошибкой.
func (r *idempotencyRepository) Delete(ctx context.Context, key string) error {
	if key = strings.TrimSpace(key); key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	conn, opCtx, release, err := r.store.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if _, err := conn.ExecContext(opCtx, `DELETE FROM idempotency_keys WHERE key = $1`, key); err != nil {
		return unavailable("delete idempotency key", err)
	}
	return nil
}

// DeleteExpired удаляет просроченные ключи порциями, самые старые первыми; limit<=0 — все.
func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now().UTC()
	}

	conn, opCtx, release, err := r.store.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	res, err := conn.ExecContext(opCtx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key
			FROM idempotency_keys
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)
	`, before, limitArg)
	if err != nil {
		return 0, unavailable("delete expired idempotency keys", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency rows affected: %w", err)
	}
	return int(affected), nil
}

func scanIdempotency(row rowScanner) (domain.IdempotencyRecord, error) {
	var (
		record      domain.IdempotencyRecord
		status      string
		respStatus  sql.NullInt64
		contentType string
		body        []byte
	)
	if err := row.Scan(
		&record.Key, &record.RequestHash, &status, &respStatus, &contentType, &body,
		&record.ExpiresAt, &record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		return domain.IdempotencyRecord{}, err
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", status, record.Key)
	}
	record.Response = domain.StoredResponse{
		StatusCode:  int(respStatus.Int64),
		ContentType: contentType,
		Body:        append([]byte(nil), body...),
	}
	record.ExpiresAt = record.ExpiresAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
