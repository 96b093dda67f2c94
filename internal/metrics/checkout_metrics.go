package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты финализации заказа.
const (
	FinalizePaid           = "paid"
	FinalizeAlreadyPaid    = "already_paid"
	FinalizeIncomplete     = "incomplete"
	FinalizeReconciliation = "reconciliation_failed"
	FinalizeError          = "error"
)

// CheckoutMetrics содержит метрики жизненного цикла заказа и оплаты.
// Все методы безопасны для nil-получателя.
type CheckoutMetrics struct {
	// Счётчики заказов
	ordersCreated *prometheus.CounterVec
	ordersDeleted prometheus.Counter
	statusChanges *prometheus.CounterVec

	// Payment intents
	intentsCreated prometheus.Counter
	intentsReused  prometheus.Counter
	finalizations  *prometheus.CounterVec

	closedRejections prometheus.Counter
	reconciled       *prometheus.CounterVec
	outboxEvents     prometheus.Counter

	gatewayDuration *prometheus.HistogramVec

	storeOpen prometheus.Gauge
}

// NewCheckoutMetrics создаёт метрики в DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return newCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer создаёт метрики в указанном registerer.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	return newCheckoutMetricsWithRegisterer(registerer)
}

func newCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		ordersCreated: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "dormside_orders_created_total",
			Help: "Total number of orders created by payment method",
		}, []string{"payment_method"}),
		ordersDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "dormside_orders_deleted_total",
			Help: "Total number of orders deleted",
		}),
		statusChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "dormside_order_status_changes_total",
			Help: "Total number of order status changes by target status",
		}, []string{"status"}),
		intentsCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "dormside_payment_intents_created_total",
			Help: "Total number of payment intents created",
		}),
		intentsReused: registerCounter(registerer, prometheus.CounterOpts{
			Name: "dormside_payment_intents_reused_total",
			Help: "Total number of payment intents reused for a repeated checkout",
		}),
		finalizations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "dormside_order_finalizations_total",
			Help: "Total number of finalize attempts by result",
		}, []string{"result"}),
		closedRejections: registerCounter(registerer, prometheus.CounterOpts{
			Name: "dormside_orders_closed_rejections_total",
			Help: "Total number of checkout attempts rejected because the store is closed",
		}),
		reconciled: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "dormside_pending_orders_reconciled_total",
			Help: "Total number of abandoned pending orders handled by the reconciler",
		}, []string{"outcome"}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "dormside_outbox_events_total",
			Help: "Total number of order events written to the outbox",
		}),
		gatewayDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "dormside_payment_gateway_duration_seconds",
			Help:    "Duration of payment gateway calls in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"operation", "outcome"}),
		storeOpen: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "dormside_store_open",
			Help: "1 when the store accepts orders, 0 otherwise",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *CheckoutMetrics) RecordOrderCreated(paymentMethod string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(paymentMethod).Inc()
}

// RecordOrderDeleted увеличивает счётчик удалённых заказов.
func (m *CheckoutMetrics) RecordOrderDeleted() {
	if m == nil {
		return
	}
	m.ordersDeleted.Inc()
}

// RecordStatusChange считает смену статуса.
func (m *CheckoutMetrics) RecordStatusChange(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

// RecordIntentCreated увеличивает счётчик созданных intent.
func (m *CheckoutMetrics) RecordIntentCreated() {
	if m == nil {
		return
	}
	m.intentsCreated.Inc()
}

// RecordIntentReused увеличивает счётчик переиспользованных intent.
func (m *CheckoutMetrics) RecordIntentReused() {
	if m == nil {
		return
	}
	m.intentsReused.Inc()
}

// RecordFinalize считает попытку финализации с результатом.
func (m *CheckoutMetrics) RecordFinalize(result string) {
	if m == nil {
		return
	}
	m.finalizations.WithLabelValues(result).Inc()
}

// RecordOrdersClosedRejection считает отказ из-за закрытого магазина.
func (m *CheckoutMetrics) RecordOrdersClosedRejection() {
	if m == nil {
		return
	}
	m.closedRejections.Inc()
}

// RecordReconciled считает заказ, обработанный reconcile-воркером.
func (m *CheckoutMetrics) RecordReconciled(outcome string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(outcome).Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// ObserveGatewayCall записывает длительность вызова платёжного шлюза.
func (m *CheckoutMetrics) ObserveGatewayCall(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.gatewayDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// SetStoreOpen выставляет gauge открытости магазина.
func (m *CheckoutMetrics) SetStoreOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.storeOpen.Set(1)
		return
	}
	m.storeOpen.Set(0)
}
