// Package metrics holds the Prometheus instruments shared across components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits / CacheMisses count WindowCache lookups per cache
	// ("calendar" or "freebusy").
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "room_booking",
		Name:      "cache_hits_total",
		Help:      "Window cache hits.",
	}, []string{"cache"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "room_booking",
		Name:      "cache_misses_total",
		Help:      "Window cache misses.",
	}, []string{"cache"})

	// GatewayCalls / GatewayErrors count EWS backend calls per operation.
	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "room_booking",
		Name:      "gateway_calls_total",
		Help:      "Calls issued to the Exchange backend.",
	}, []string{"op"})

	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "room_booking",
		Name:      "gateway_errors_total",
		Help:      "Failed Exchange backend calls.",
	}, []string{"op"})
)
