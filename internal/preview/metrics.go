// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package preview

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_preview_operations_total",
		Help: "Preview operations by operation and outcome status",
	}, []string{"op", "status"})

	mutationsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_preview_mutations_total",
		Help: "Host mutations attempted during apply, by result",
	}, []string{"result"})

	activeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_preview_active",
		Help: "Number of staged previews awaiting apply or cancel",
	})
)

// Mutation results.
const (
	resultApplied = "applied"
	resultFailed  = "failed"
	resultSkipped = "skipped"
)
