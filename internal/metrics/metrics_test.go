package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollection(t *testing.T) {
	assert.Equal(t, "orders", Collection("orders/12"))
	assert.Equal(t, "cashier_sessions", Collection("cashier_sessions"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveLockWait("orders/1", time.Second)
		m.LockTimeout("orders/1")
		m.Busy("orders/1")
		m.Malformed("x")
		m.Transaction("restaurant_service", "sale")
		m.OrderClosed("cashier")
		m.Fiscal("restaurant")
		m.CollaboratorFailed("print")
	})
}

func TestCountersIncrement(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Busy("orders/1")
	m.Busy("orders/2")
	m.LockTimeout("room_charges")
	m.Transaction("guest_consumption", "sale")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BusyRejections.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LockTimeouts.WithLabelValues("room_charges")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerTransactions.WithLabelValues("guest_consumption", "sale")))
}
