// Package metrics exposes Prometheus counters for the grid bot:
//
//	grid_fills_total{side,direction}          fills accepted by the engine
//	grid_events_ignored_total{reason}         foreign/partial/disabled events
//	grid_orders_placed_total{side,direction}  successful placements
//	grid_order_rejects_total{side,direction}  placement failures
//	grid_cancels_total{side,result}           cancel attempts (ok|error)
//	grid_take_profits_total{side}             completed round trips
//	grid_ceiling_hits_total{side}             fills that reached max position
//	grid_position{side}                       current position (base units)
//	stream_state                              0=disconnected 1=authenticating 2=subscribed
//	stream_reconnects_total                   transport drops
//	notify_failures_total / notify_dropped_total
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fills = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "grid_fills_total", Help: "Fills processed by the grid engine"},
		[]string{"side", "direction"},
	)

	ignored = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "grid_events_ignored_total", Help: "Order events discarded without state change"},
		[]string{"reason"},
	)

	placed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "grid_orders_placed_total", Help: "Grid orders accepted by the venue"},
		[]string{"side", "direction"},
	)

	rejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "grid_order_rejects_total", Help: "Grid order placements that failed"},
		[]string{"side", "direction"},
	)

	cancels = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "grid_cancels_total", Help: "Cancel attempts on self-placed orders"},
		[]string{"side", "result"},
	)

	takeProfits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "grid_take_profits_total", Help: "Closing fills (completed round trips)"},
		[]string{"side"},
	)

	ceilingHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "grid_ceiling_hits_total", Help: "Opening fills that left the side at or above max position"},
		[]string{"side"},
	)

	position = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "grid_position", Help: "Current position per grid side in base units"},
		[]string{"side"},
	)

	streamState = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "stream_state", Help: "Order stream state (0=disconnected, 1=authenticating, 2=subscribed)"},
	)

	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "stream_reconnects_total", Help: "Order stream transport drops followed by a reconnect"},
	)

	notifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "notify_failures_total", Help: "Operator notifications that failed to deliver"},
	)

	notifyDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "notify_dropped_total", Help: "Operator notifications dropped because the queue was full"},
	)
)

func init() {
	prometheus.MustRegister(fills, ignored, placed, rejects, cancels)
	prometheus.MustRegister(takeProfits, ceilingHits, position)
	prometheus.MustRegister(streamState, reconnects)
	prometheus.MustRegister(notifyFailures, notifyDropped)
}

func IncFill(side, direction string)     { fills.WithLabelValues(side, direction).Inc() }
func IncIgnored(reason string)           { ignored.WithLabelValues(reason).Inc() }
func IncPlaced(side, direction string)   { placed.WithLabelValues(side, direction).Inc() }
func IncRejected(side, direction string) { rejects.WithLabelValues(side, direction).Inc() }
func IncTakeProfit(side string)          { takeProfits.WithLabelValues(side).Inc() }
func IncCeiling(side string)             { ceilingHits.WithLabelValues(side).Inc() }
func SetPosition(side string, v float64) { position.WithLabelValues(side).Set(v) }
func SetStreamState(v int)               { streamState.Set(float64(v)) }
func IncReconnect()                      { reconnects.Inc() }
func IncNotifyFailure()                  { notifyFailures.Inc() }
func IncNotifyDropped()                  { notifyDropped.Inc() }

func IncCancel(side string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	cancels.WithLabelValues(side, result).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler { return promhttp.Handler() }
