// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package metrics registers the Prometheus collectors exposed by the
// webhook on /metrics: admission decision counts, store/lock failures, and
// reconciliation outcomes.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "spot_balancer"

var (
	// AdmissionDecisions counts mutate-handler outcomes by capacity type
	// chosen ("spot", "on-demand", "" for unlabeled/best-effort).
	AdmissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_decisions_total",
			Help:      "Total admission mutate decisions by capacity type chosen.",
		},
		[]string{"capacity_type"},
	)

	// AdmissionFailOpen counts mutate/validate invocations that degraded to
	// allow-unchanged because of a store or lock failure.
	AdmissionFailOpen = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_fail_open_total",
			Help:      "Total admission requests that failed open due to a store or lock error.",
		},
		[]string{"handler"},
	)

	// ReconcileRuns counts reconciliation passes by outcome ("completed",
	// or "list_failed" when the executor pod listing failed).
	ReconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Total reconciliation passes, by outcome.",
		},
		[]string{"outcome"},
	)

	// ReconcileGroupErrors counts per-group failures during a
	// reconciliation pass (skipped overwrite or reap check).
	ReconcileGroupErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_group_errors_total",
			Help:      "Total per-job errors encountered during reconciliation.",
		},
		[]string{"reason"},
	)

	// StoreOperationDuration observes the latency of state-store calls.
	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of state-store operations.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// MustRegister registers every collector in this package against reg. It
// panics on a duplicate registration, which can only happen if called more
// than once against the same registry — a programming error at startup.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(AdmissionDecisions, AdmissionFailOpen, ReconcileRuns, ReconcileGroupErrors, StoreOperationDuration)
}
