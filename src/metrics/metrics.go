package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "perp"

// Metrics holds the collectors for every market operation. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	marketsCreated prometheus.Counter
	ordersPlaced   *prometheus.CounterVec
	fills          *prometheus.CounterVec
	filledLots     *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	eventsConsumed *prometheus.CounterVec

	restingOrders *prometheus.GaugeVec
	queueDepth    *prometheus.GaugeVec
	stablePrice   *prometheus.GaugeVec
	fundingRate   *prometheus.GaugeVec
	openInterest  *prometheus.GaugeVec

	opDuration *prometheus.HistogramVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		marketsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "markets_created_total",
			Help:      "Total number of perp markets created",
		}),
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Orders placed by resulting status",
		}, []string{"market", "status"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Fill events produced by matching",
		}, []string{"market"}),
		filledLots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filled_base_lots_total",
			Help:      "Base lots filled by matching",
		}, []string{"market"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Market operations rolled back, by error kind",
		}, []string{"op", "kind"}),
		eventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consumed_total",
			Help:      "Queue events handed to the settlement consumer",
		}, []string{"market"}),

		restingOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resting_orders",
			Help:      "Resting orders by side",
		}, []string{"market", "side"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_queue_depth",
			Help:      "Unconsumed events in the queue",
		}, []string{"market"}),
		stablePrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stable_price",
			Help:      "Stable price in native quote per native base",
		}, []string{"market"}),
		fundingRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "funding_rate_daily",
			Help:      "Last applied daily funding rate",
		}, []string{"market"}),
		openInterest: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_interest_base_lots",
			Help:      "Open interest in base lots",
		}, []string{"market"}),

		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of market operations including staging and commit",
			Buckets:   []float64{.00001, .00005, .0001, .00025, .0005, .001, .005, .01, .05},
		}, []string{"op"}),
	}

	registry.MustRegister(
		m.marketsCreated, m.ordersPlaced, m.fills, m.filledLots, m.rejections, m.eventsConsumed,
		m.restingOrders, m.queueDepth, m.stablePrice, m.fundingRate, m.openInterest,
		m.opDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func label(market uint16) string { return strconv.FormatUint(uint64(market), 10) }

func (m *Metrics) MarketCreated() {
	if m == nil {
		return
	}
	m.marketsCreated.Inc()
}

func (m *Metrics) OrderPlaced(market uint16, status string, fills int, filledLots int64) {
	if m == nil {
		return
	}
	l := label(market)
	m.ordersPlaced.WithLabelValues(l, status).Inc()
	if fills > 0 {
		m.fills.WithLabelValues(l).Add(float64(fills))
		m.filledLots.WithLabelValues(l).Add(float64(filledLots))
	}
}

func (m *Metrics) OperationFailed(op, kind string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(op, kind).Inc()
}

func (m *Metrics) EventsConsumed(market uint16, n int) {
	if m == nil {
		return
	}
	m.eventsConsumed.WithLabelValues(label(market)).Add(float64(n))
}

// MarketState refreshes the per-market gauges after a commit.
func (m *Metrics) MarketState(market uint16, bids, asks, queued int, openInterest int64, stablePrice float64) {
	if m == nil {
		return
	}
	l := label(market)
	m.restingOrders.WithLabelValues(l, "bid").Set(float64(bids))
	m.restingOrders.WithLabelValues(l, "ask").Set(float64(asks))
	m.queueDepth.WithLabelValues(l).Set(float64(queued))
	m.openInterest.WithLabelValues(l).Set(float64(openInterest))
	m.stablePrice.WithLabelValues(l).Set(stablePrice)
}

func (m *Metrics) FundingRate(market uint16, rate float64) {
	if m == nil {
		return
	}
	m.fundingRate.WithLabelValues(label(market)).Set(rate)
}

func (m *Metrics) ObserveOperation(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.opDuration.WithLabelValues(op).Observe(d.Seconds())
}
