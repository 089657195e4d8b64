package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqicast_upstream_calls_total",
			Help: "Total calls to upstream air quality and weather APIs",
		},
		[]string{"source", "status"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aqicast_upstream_latency_seconds",
			Help:    "Upstream API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	ReadingsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqicast_readings_ingested_total",
			Help: "Total IAQI readings stored",
		},
		[]string{"source"},
	)

	WeatherDaysIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aqicast_weather_days_ingested_total",
			Help: "Total daily weather rows stored",
		},
	)

	WindowsBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqicast_windows_built_total",
			Help: "Training windows built per split",
		},
		[]string{"split"},
	)

	TrainingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqicast_training_runs_total",
			Help: "Training pipeline runs by outcome",
		},
		[]string{"status"},
	)

	EvaluationHeadline = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aqicast_evaluation_headline",
			Help: "Model selection score of the most recent training run",
		},
		[]string{"metric"},
	)

	ForecastsServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aqicast_forecasts_served_total",
			Help: "Total forecasts produced",
		},
	)

	ForecastsVerified = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aqicast_forecasts_verified_total",
			Help: "Total issued forecast values verified against observations",
		},
	)
)
