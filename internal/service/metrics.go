package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_review_submissions_total",
		Help: "Review submissions by result (created, updated_existing, rejected, busy, error).",
	}, []string{"result"})

	ledgerRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transaction_retries_total",
		Help: "Ledger transactions retried after a conflict.",
	}, []string{"operation"})

	ledgerDeactivations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_review_deactivations_total",
		Help: "Reviews removed from a title's aggregate.",
	})
)
