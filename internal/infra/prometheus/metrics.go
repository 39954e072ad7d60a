package prometheus

import (
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Domain counters exported on /metrics.
var (
	ClicksRecorded = promauto.NewCounterVec(prom.CounterOpts{
		Name: "tracking_clicks_total",
		Help: "Clicks recorded, by fraud action.",
	}, []string{"action"})

	ConversionsRecorded = promauto.NewCounterVec(prom.CounterOpts{
		Name: "tracking_conversions_total",
		Help: "Conversions recorded, by attribution source.",
	}, []string{"source"})

	FraudVerdicts = promauto.NewCounterVec(prom.CounterOpts{
		Name: "fraud_verdicts_total",
		Help: "Fraud verdicts issued, by subject and action.",
	}, []string{"subject", "action"})

	FraudFlags = promauto.NewCounterVec(prom.CounterOpts{
		Name: "fraud_flags_total",
		Help: "Fraud flags raised, by flag type.",
	}, []string{"flag"})

	FraudScoringFailures = promauto.NewCounterVec(prom.CounterOpts{
		Name: "fraud_scoring_failures_total",
		Help: "Fraud scoring failures that fell back to allow.",
	}, []string{"subject"})

	EventsPublished = promauto.NewCounterVec(prom.CounterOpts{
		Name: "pipeline_events_published_total",
		Help: "Events handed to the broker, by topic and outcome.",
	}, []string{"topic", "outcome"})

	EventsReplayed = promauto.NewCounterVec(prom.CounterOpts{
		Name: "pipeline_events_replayed_total",
		Help: "Parked events replayed by the retry sweeper, by outcome.",
	}, []string{"outcome"})

	EventsConsumed = promauto.NewCounterVec(prom.CounterOpts{
		Name: "pipeline_events_consumed_total",
		Help: "Broker messages processed, by topic and outcome.",
	}, []string{"topic", "outcome"})

	CommissionsSettled = promauto.NewCounterVec(prom.CounterOpts{
		Name: "commission_settlements_total",
		Help: "Pending commissions drained, by outcome.",
	}, []string{"outcome"})
)
