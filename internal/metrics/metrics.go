package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts cache reads by outcome (hit|miss|error).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adinsight_cache_lookups_total",
			Help: "Total number of response cache lookups",
		},
		[]string{"service", "endpoint", "result"},
	)

	// CacheWrites counts cache upserts by outcome (ok|error).
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adinsight_cache_writes_total",
			Help: "Total number of response cache writes",
		},
		[]string{"service", "endpoint", "result"},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adinsight_cache_expired_deleted_total",
			Help: "Expired cache entries removed by cleanup",
		},
	)

	// ProviderCalls counts provider results by source (live|cache|fallback).
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adinsight_provider_results_total",
			Help: "Provider results by where the data came from",
		},
		[]string{"service", "endpoint", "source"},
	)

	// AnalysisJobs counts analysis jobs by final status.
	AnalysisJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adinsight_analysis_jobs_total",
			Help: "Analysis jobs by final status",
		},
		[]string{"status"},
	)

	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adinsight_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
