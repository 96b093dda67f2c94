package storestatus

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
	"github.com/vladislavdragonenkov/dormside/internal/metrics"
	"github.com/vladislavdragonenkov/dormside/internal/storage/memory"
)

type failingSettings struct{ err error }

func (f failingSettings) Get(context.Context) (domain.StoreSettings, error) {
	return domain.StoreSettings{}, f.err
}

func (f failingSettings) Update(context.Context, domain.StoreSettings) (domain.StoreSettings, error) {
	return domain.StoreSettings{}, f.err
}

func TestService_DefaultsToOpen(t *testing.T) {
	svc := NewService(memory.NewSettingsRepository(), nil, nil)

	open, err := svc.IsAcceptingOrders(context.Background())
	require.NoError(t, err)
	assert.True(t, open)
}

func TestService_SetIsVisibleToGate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewSettingsRepository(), metrics.NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry()), nil)

	saved, err := svc.Set(ctx, domain.StoreSettings{IsOpen: false})
	require.NoError(t, err)
	assert.False(t, saved.IsOpen)

	open, err := svc.IsAcceptingOrders(ctx)
	require.NoError(t, err)
	assert.False(t, open)

	_, err = svc.Set(ctx, domain.StoreSettings{IsOpen: true})
	require.NoError(t, err)

	open, err = svc.IsAcceptingOrders(ctx)
	require.NoError(t, err)
	assert.True(t, open)
}

func TestService_ReadFailureIsStorageUnavailable(t *testing.T) {
	svc := NewService(failingSettings{err: errors.New("connection refused")}, nil, nil)

	open, err := svc.IsAcceptingOrders(context.Background())
	assert.False(t, open)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)

	_, err = svc.Set(context.Background(), domain.StoreSettings{IsOpen: true})
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestService_AlreadyUnavailableIsNotDoubleWrapped(t *testing.T) {
	svc := NewService(failingSettings{err: domain.ErrStorageUnavailable}, nil, nil)

	_, err := svc.Get(context.Background())
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Equal(t, "read store settings: storage unavailable", err.Error())
}
