package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersSubmitted counts orders accepted by the engine by side and final status
var OrdersSubmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "papertrade_orders_submitted_total",
		Help: "Total number of orders processed by the matching engine",
	},
	[]string{"side", "status"},
)

// OrdersRejected counts submissions rejected before any state change
var OrdersRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "papertrade_orders_rejected_total",
		Help: "Total number of order submissions rejected by the engine",
	},
	[]string{"reason"},
)

// TradeLegs counts executed trade legs
var TradeLegs = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "papertrade_trade_legs_total",
		Help: "Total number of executed trade legs",
	},
)

// MatchingLatency records latency distribution for one submission's
// matching and settlement pass
var MatchingLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "papertrade_matching_latency_seconds",
		Help:    "Latency in seconds to match and settle one submission",
		Buckets: prometheus.DefBuckets,
	},
)

// EventsDropped counts events dropped because a subscriber was slow or gone
var EventsDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "papertrade_events_dropped_total",
		Help: "Total number of events dropped on slow subscribers",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(OrdersSubmitted, OrdersRejected, TradeLegs, MatchingLatency, EventsDropped)
}
