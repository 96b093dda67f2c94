package reconcile

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
	"github.com/vladislavdragonenkov/dormside/internal/metrics"
	"github.com/vladislavdragonenkov/dormside/internal/service/lifecycle"
)

const (
	defaultSweepInterval = 5 * time.Minute

	OutcomeFinalized = "finalized"
	OutcomeDeleted   = "deleted"
	OutcomeSkipped   = "skipped"
)

// Orders — операции контроллера, которые нужны воркеру.
type Orders interface {
	List(ctx context.Context) ([]domain.Order, error)
	Finalize(ctx context.Context, req lifecycle.FinalizeRequest) (domain.Order, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Options задаёт параметры воркера.
type Options struct {
	Logger   *log.Entry
	Metrics  *metrics.CheckoutMetrics
	Interval time.Duration
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithInterval задаёт период обхода.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) { opts.Interval = interval }
}

// Report — итог одного обхода.
type Report struct {
	Finalized int
	Deleted   int
	Skipped   int
}

// Worker разбирает брошенные заказы картой: pending дольше ttl.
// Оплаченный у шлюза заказ переводится в paid, остальные удаляются.
// cash_pending не трогается никогда.
type Worker struct {
	orders   Orders
	ttl      time.Duration
	interval time.Duration
	logger   *log.Entry
	metrics  *metrics.CheckoutMetrics
	now      func() time.Time
}

// NewWorker создаёт воркер; ttl должен быть положительным.
func NewWorker(orders Orders, ttl time.Duration, options ...Option) *Worker {
	opts := Options{Interval: defaultSweepInterval}
	for _, option := range options {
		option(&opts)
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "pending-order-reconciler")
	}

	return &Worker{
		orders:   orders,
		ttl:      ttl,
		interval: opts.Interval,
		logger:   logger,
		metrics:  opts.Metrics,
		now:      time.Now,
	}
}

// Run обходит заказы каждые interval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.orders == nil || w.ttl <= 0 {
		w.logger.Info("pending order reconciler is disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce выполняет один обход.
func (w *Worker) SweepOnce(ctx context.Context) Report {
	var report Report
	if ctx.Err() != nil || w.ttl <= 0 {
		return report
	}

	orders, err := w.orders.List(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to list orders for reconciliation")
		return report
	}

	cutoff := w.now().Add(-w.ttl)
	for _, order := range orders {
		if ctx.Err() != nil {
			break
		}
		if order.PaymentMethod != domain.PaymentMethodCard || order.Status != domain.OrderStatusPending {
			continue
		}
		if order.CreatedAt.After(cutoff) {
			continue
		}

		outcome := w.reconcile(ctx, order)
		w.metrics.RecordReconciled(outcome)
		switch outcome {
		case OutcomeFinalized:
			report.Finalized++
		case OutcomeDeleted:
			report.Deleted++
		default:
			report.Skipped++
		}
	}

	if report.Finalized+report.Deleted > 0 {
		w.logger.WithFields(log.Fields{
			"finalized": report.Finalized,
			"deleted":   report.Deleted,
			"skipped":   report.Skipped,
		}).Info("abandoned pending orders reconciled")
	}
	return report
}

func (w *Worker) reconcile(ctx context.Context, order domain.Order) string {
	logger := w.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"payment_intent": order.PaymentIntentID,
	})

	if order.PaymentIntentID != "" {
		_, err := w.orders.Finalize(ctx, lifecycle.FinalizeRequest{OrderID: order.ID, PaymentIntentID: order.PaymentIntentID})
		var incomplete *lifecycle.IncompleteError
		switch {
		case err == nil:
			logger.Info("abandoned order was paid, finalized")
			return OutcomeFinalized
		case errors.As(err, &incomplete) && incomplete.Status == domain.IntentStatusProcessing:
			// Оплата ещё идёт у шлюза, вернёмся на следующем обходе.
			return OutcomeSkipped
		case errors.As(err, &incomplete), errors.Is(err, domain.ErrReconciliation):
			// Intent не оплачен или не принадлежит заказу: заказ удаляется ниже.
		case errors.Is(err, domain.ErrOrderNotFound):
			return OutcomeSkipped
		default:
			logger.WithError(err).Warn("cannot verify abandoned order, will retry")
			return OutcomeSkipped
		}
	}

	removed, err := w.orders.Delete(ctx, order.ID)
	if err != nil {
		logger.WithError(err).Warn("failed to delete abandoned order")
		return OutcomeSkipped
	}
	if !removed {
		return OutcomeSkipped
	}
	logger.Info("abandoned order deleted")
	return OutcomeDeleted
}
