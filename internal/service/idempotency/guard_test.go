package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
	"github.com/vladislavdragonenkov/dormside/internal/storage/memory"
)

func TestHashRequest_DependsOnMethodPathAndBody(t *testing.T) {
	base := HashRequest("POST", "/api/orders", []byte(`{"a":1}`))

	assert.Equal(t, base, HashRequest("post", "/api/orders", []byte(`{"a":1}`)))
	assert.NotEqual(t, base, HashRequest("POST", "/api/checkout", []byte(`{"a":1}`)))
	assert.NotEqual(t, base, HashRequest("POST", "/api/orders", []byte(`{"a":2}`)))
	assert.Len(t, base, 64)
}

func TestGuard_ReplaysCompletedResponse(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	outcome, err := guard.Begin(ctx, "key-1", "hash-1")
	require.NoError(t, err)
	assert.False(t, outcome.Replay)

	require.NoError(t, guard.Complete(ctx, "key-1", domain.StoredResponse{
		StatusCode:  http.StatusCreated,
		ContentType: "application/json",
		Body:        []byte(`{"order":{}}`),
	}))

	outcome, err = guard.Begin(ctx, "key-1", "hash-1")
	require.NoError(t, err)
	assert.True(t, outcome.Replay)
	assert.Equal(t, http.StatusCreated, outcome.Response.StatusCode)
	assert.Equal(t, "application/json", outcome.Response.ContentType)
	assert.JSONEq(t, `{"order":{}}`, string(outcome.Response.Body))
}

func TestGuard_ReplaysClientErrors(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	_, err := guard.Begin(ctx, "key-400", "hash")
	require.NoError(t, err)
	require.NoError(t, guard.Complete(ctx, "key-400", domain.StoredResponse{
		StatusCode: http.StatusBadRequest,
		Body:       []byte(`{"error":"invalid order"}`),
	}))

	outcome, err := guard.Begin(ctx, "key-400", "hash")
	require.NoError(t, err)
	assert.True(t, outcome.Replay)
	assert.Equal(t, http.StatusBadRequest, outcome.Response.StatusCode)
}

func TestGuard_ServerErrorReleasesKey(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	_, err := guard.Begin(ctx, "key-500", "hash")
	require.NoError(t, err)
	require.NoError(t, guard.Complete(ctx, "key-500", domain.StoredResponse{StatusCode: http.StatusInternalServerError}))

	outcome, err := guard.Begin(ctx, "key-500", "hash")
	require.NoError(t, err)
	assert.False(t, outcome.Replay)
}

func TestGuard_Conflicts(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	_, err := guard.Begin(ctx, "key-c", "hash-a")
	require.NoError(t, err)

	_, err = guard.Begin(ctx, "key-c", "hash-a")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	_, err = guard.Begin(ctx, "key-c", "hash-b")
	assert.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestGuard_ExpiredKeyIsReRegistered(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Minute, nil)

	start := time.Date(2025, 9, 14, 12, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return start }
	_, err := guard.Begin(ctx, "key-e", "hash-a")
	require.NoError(t, err)

	guard.now = func() time.Time { return start.Add(2 * time.Minute) }
	outcome, err := guard.Begin(ctx, "key-e", "hash-b")
	require.NoError(t, err)
	assert.False(t, outcome.Replay)
}

func TestGuard_Release(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	_, err := guard.Begin(ctx, "key-r", "hash")
	require.NoError(t, err)
	require.NoError(t, guard.Release(ctx, "key-r"))
	require.NoError(t, guard.Release(ctx, "key-r"))

	_, err = guard.Begin(ctx, "key-r", "hash")
	assert.NoError(t, err)
}
