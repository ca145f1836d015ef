package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "automatus",
		Name:      "connections_active",
		Help:      "Number of live bridge connections.",
	})
	metricConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "automatus",
		Name:      "connections_total",
		Help:      "Total bridge connections accepted.",
	})
	metricCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "automatus",
		Name:      "commands_total",
		Help:      "Commands processed, by kind.",
	}, []string{"kind"})
	metricCommandErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "automatus",
		Name:      "command_errors_total",
		Help:      "Command failures, by wire error code.",
	}, []string{"code"})
	metricAuthFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "automatus",
		Name:      "auth_failures_total",
		Help:      "Failed authentication attempts.",
	})
	metricBreakersOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "automatus",
		Name:      "circuit_breakers_open",
		Help:      "Circuit breakers currently open.",
	})
	metricSweptConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "automatus",
		Name:      "connections_swept_total",
		Help:      "Connections closed by the heartbeat sweep.",
	})
)
