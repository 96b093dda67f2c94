package storestatus

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
	"github.com/vladislavdragonenkov/dormside/internal/metrics"
)

// Service отвечает на вопрос "принимает ли магазин заказы" по сохранённым настройкам.
// Каждый вызов читает хранилище заново: кэш на стороне клиента не считается источником истины.
type Service struct {
	settings domain.SettingsRepository
	metrics  *metrics.CheckoutMetrics
	logger   *log.Entry
}

// NewService создаёт gate над репозиторием настроек.
func NewService(settings domain.SettingsRepository, m *metrics.CheckoutMetrics, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "store-status")
	}
	return &Service{settings: settings, metrics: m, logger: logger}
}

// IsAcceptingOrders читает флаг открытости магазина.
func (s *Service) IsAcceptingOrders(ctx context.Context) (bool, error) {
	settings, err := s.Get(ctx)
	if err != nil {
		return false, err
	}
	return settings.IsOpen, nil
}

// Get возвращает текущие настройки магазина.
func (s *Service) Get(ctx context.Context) (domain.StoreSettings, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("store status read failed")
		return domain.StoreSettings{}, asUnavailable("read store settings", err)
	}
	s.metrics.SetStoreOpen(settings.IsOpen)
	return settings, nil
}

// Set сохраняет настройки магазина.
func (s *Service) Set(ctx context.Context, settings domain.StoreSettings) (domain.StoreSettings, error) {
	saved, err := s.settings.Update(ctx, settings)
	if err != nil {
		return domain.StoreSettings{}, asUnavailable("update store settings", err)
	}

	s.metrics.SetStoreOpen(saved.IsOpen)
	s.logger.WithField("is_open", saved.IsOpen).Info("store status updated")
	return saved, nil
}

func asUnavailable(op string, err error) error {
	if errors.Is(err, domain.ErrStorageUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStorageUnavailable, err)
}

var _ domain.StoreStatusGate = (*Service)(nil)
