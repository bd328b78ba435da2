package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polypilot_orders_total",
		Help: "The total number of orders processed",
	}, []string{"status", "side"})

	RiskRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polypilot_risk_rejects_total",
		Help: "Total risk gate rejections",
	}, []string{"reason"})

	SignalLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "polypilot_signal_latency_seconds",
		Help:    "Latency from signal dequeue to terminal order state",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	MetricsRecomputes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polypilot_metrics_recomputes_total",
		Help: "Total bot metrics replays",
	}, []string{"status"})

	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polypilot_claims_total",
		Help: "Total claim attempts by the claim scanner",
	}, []string{"status"})

	JobRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polypilot_job_retries_total",
		Help: "Job re-deliveries after transient failures",
	}, []string{"job_type"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "polypilot_http_latency_seconds",
		Help:    "Ingress request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)
