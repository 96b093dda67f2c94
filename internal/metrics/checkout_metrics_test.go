package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, c.Write(metric))
	return metric.GetCounter().GetValue()
}

func TestNewCheckoutMetricsWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCheckoutMetricsWithRegisterer(reg)

	require.NotNil(t, m)
	assert.NotNil(t, m.ordersCreated)
	assert.NotNil(t, m.finalizations)
	assert.NotNil(t, m.gatewayDuration)
	assert.NotNil(t, m.storeOpen)
}

func TestCheckoutMetrics_ReRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewCheckoutMetricsWithRegisterer(reg)
	second := NewCheckoutMetricsWithRegisterer(reg)

	first.RecordIntentCreated()
	second.RecordIntentCreated()

	assert.Equal(t, float64(2), counterValue(t, first.intentsCreated))
}

func TestCheckoutMetrics_Counters(t *testing.T) {
	m := NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordOrderCreated("card")
	m.RecordOrderCreated("card")
	m.RecordOrderCreated("cash")
	m.RecordOrderDeleted()
	m.RecordStatusChange("paid")
	m.RecordIntentReused()
	m.RecordFinalize(FinalizePaid)
	m.RecordFinalize(FinalizeIncomplete)
	m.RecordFinalize(FinalizeIncomplete)
	m.RecordOrdersClosedRejection()
	m.RecordReconciled("deleted")
	m.RecordOutboxEvent()

	assert.Equal(t, float64(2), counterValue(t, m.ordersCreated.WithLabelValues("card")))
	assert.Equal(t, float64(1), counterValue(t, m.ordersCreated.WithLabelValues("cash")))
	assert.Equal(t, float64(1), counterValue(t, m.ordersDeleted))
	assert.Equal(t, float64(1), counterValue(t, m.statusChanges.WithLabelValues("paid")))
	assert.Equal(t, float64(1), counterValue(t, m.intentsReused))
	assert.Equal(t, float64(1), counterValue(t, m.finalizations.WithLabelValues(FinalizePaid)))
	assert.Equal(t, float64(2), counterValue(t, m.finalizations.WithLabelValues(FinalizeIncomplete)))
	assert.Equal(t, float64(1), counterValue(t, m.closedRejections))
	assert.Equal(t, float64(1), counterValue(t, m.reconciled.WithLabelValues("deleted")))
	assert.Equal(t, float64(1), counterValue(t, m.outboxEvents))
}

func TestCheckoutMetrics_GatewayDuration(t *testing.T) {
	m := NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry())

	m.ObserveGatewayCall("create_intent", nil, 120*time.Millisecond)
	m.ObserveGatewayCall("create_intent", errors.New("boom"), 2*time.Second)

	okMetric := &dto.Metric{}
	require.NoError(t, m.gatewayDuration.WithLabelValues("create_intent", "ok").(prometheus.Histogram).Write(okMetric))
	assert.Equal(t, uint64(1), okMetric.GetHistogram().GetSampleCount())
	assert.InDelta(t, 0.12, okMetric.GetHistogram().GetSampleSum(), 0.001)

	errMetric := &dto.Metric{}
	require.NoError(t, m.gatewayDuration.WithLabelValues("create_intent", "error").(prometheus.Histogram).Write(errMetric))
	assert.Equal(t, uint64(1), errMetric.GetHistogram().GetSampleCount())
}

func TestCheckoutMetrics_StoreOpenGauge(t *testing.T) {
	m := NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry())

	m.SetStoreOpen(true)
	metric := &dto.Metric{}
	require.NoError(t, m.storeOpen.Write(metric))
	assert.Equal(t, float64(1), metric.GetGauge().GetValue())

	m.SetStoreOpen(false)
	metric = &dto.Metric{}
	require.NoError(t, m.storeOpen.Write(metric))
	assert.Equal(t, float64(0), metric.GetGauge().GetValue())
}

func TestCheckoutMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *CheckoutMetrics

	assert.NotPanics(t, func() {
		m.RecordOrderCreated("card")
		m.RecordOrderDeleted()
		m.RecordStatusChange("paid")
		m.RecordIntentCreated()
		m.RecordIntentReused()
		m.RecordFinalize(FinalizeError)
		m.RecordOrdersClosedRejection()
		m.RecordReconciled("finalized")
		m.RecordOutboxEvent()
		m.ObserveGatewayCall("get_intent", nil, time.Millisecond)
		m.SetStoreOpen(true)
	})
}
