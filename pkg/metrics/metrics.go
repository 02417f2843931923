// Copyright (c) 2025 PassChain Authors
//
// This file is part of go-passchain.
//
// go-passchain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@passchain.dev for commercial licensing options.

// Package metrics provides Prometheus instrumentation for the signing engine
// and the relay: signing operation counters, pool slot gauges, nonce cache
// activity, and relay HTTP traffic.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all engine metrics
	Namespace = "passchain"

	// Label names
	LabelOperation  = "operation"
	LabelStatus     = "status"
	LabelState      = "state"
	LabelOutcome    = "outcome"
	LabelRoute      = "route"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"

	// Operation names
	OpSign        = "sign"
	OpRegister    = "register"
	OpLogin       = "login"
	OpWrap        = "wrap"
	OpUnwrap      = "unwrap"
	OpIssue       = "issue_challenge"
	OpRefresh     = "refresh_context"
	OpHealthProbe = "health_probe"

	// Confirmation outcomes
	OutcomeConfirmed      = "confirmed"
	OutcomeRejected       = "rejected"
	OutcomeDigestMismatch = "digest_mismatch"
)

var (
	// OperationsTotal tracks signing-engine operations by type and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of signing-engine operations by type and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// OperationDuration tracks operation latency. Buckets cover crypto work
	// through human confirmation delays.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of signing-engine operations in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 15, 30, 60},
		},
		[]string{LabelOperation},
	)

	// PoolSlots tracks the worker pool's slot population by state.
	PoolSlots = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "pool",
			Name:      "slots",
			Help:      "Worker pool slots by state",
		},
		[]string{LabelState},
	)

	// PoolReplacementsTotal counts slots destroyed and replaced after use,
	// timeout, or failure.
	PoolReplacementsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pool",
			Name:      "replacements_total",
			Help:      "Total number of worker slots destroyed and replaced",
		},
	)

	// NonceReservationsTotal counts nonces handed out to in-flight
	// transactions.
	NonceReservationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nonce",
			Name:      "reservations_total",
			Help:      "Total number of nonces reserved for in-flight transactions",
		},
	)

	// NonceRefreshTotal counts context refresh attempts against the chain
	// RPC by status.
	NonceRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nonce",
			Name:      "refresh_total",
			Help:      "Total number of transaction-context refreshes by status",
		},
		[]string{LabelStatus},
	)

	// ConfirmationsTotal counts confirmation handshake outcomes.
	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "confirmations_total",
			Help:      "Total number of confirmation handshakes by outcome",
		},
		[]string{LabelOutcome},
	)

	// RelayRequestsTotal tracks relay HTTP requests by route and status code.
	RelayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Total number of relay HTTP requests by route and status code",
		},
		[]string{LabelRoute, LabelStatusCode},
	)

	// RelayRequestDuration tracks relay HTTP request latency.
	RelayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "request_duration_seconds",
			Help:      "Duration of relay HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelRoute},
	)
)

// RecordOperation increments the operation counter with the given status.
func RecordOperation(operation, status string) {
	OperationsTotal.WithLabelValues(operation, status).Inc()
}

// ObserveOperation records the duration of a completed operation.
func ObserveOperation(operation string, started time.Time) {
	OperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// RecordConfirmation increments the confirmation outcome counter.
func RecordConfirmation(outcome string) {
	ConfirmationsTotal.WithLabelValues(outcome).Inc()
}

// SetPoolSlots sets the gauge for one slot state.
func SetPoolSlots(state string, n int) {
	PoolSlots.WithLabelValues(state).Set(float64(n))
}

// ObserveRelayRequest records one relay HTTP request.
func ObserveRelayRequest(route string, statusCode int, started time.Time) {
	RelayRequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	RelayRequestDuration.WithLabelValues(route).Observe(time.Since(started).Seconds())
}
