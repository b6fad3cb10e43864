package txengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txengine_transactions_submitted_total",
			Help: "Total transactions broadcast to the network",
		},
		[]string{"chain_id"},
	)

	metricConfirmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txengine_transactions_confirmed_total",
			Help: "Total transactions confirmed on chain",
		},
		[]string{"chain_id"},
	)

	metricTerminal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txengine_transactions_terminal_total",
			Help: "Total transactions reaching a terminal negative state",
		},
		[]string{"chain_id", "status"},
	)

	metricNonceAllocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txengine_nonce_allocations_total",
			Help: "Total nonce lock acquisitions",
		},
		[]string{"chain_id"},
	)

	metricReconcileCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txengine_reconcile_cycles_total",
			Help: "Total block reconciliation cycles",
		},
		[]string{"chain_id"},
	)

	metricReconcileErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txengine_reconcile_errors_total",
			Help: "Reconciliation errors absorbed per record",
		},
		[]string{"chain_id"},
	)

	metricUnconfirmReversals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txengine_unconfirm_reversals_total",
			Help: "Confirmed transactions reverted to submitted after a receipt disappeared",
		},
		[]string{"chain_id"},
	)

	metricTrackedRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "txengine_tracked_records",
			Help: "Records currently held by the store",
		},
	)
)
