package metrics

import (
	"context"
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ammEngine/internal/dex"
	"ammEngine/internal/model"
)

const (
	namespace = "amm"
	subsystem = "pool"
)

// Collector turns engine events into Prometheus metrics. It owns its
// registry so several engines can run in one process.
type Collector struct {
	registry *prometheus.Registry

	events         *prometheus.CounterVec
	poolsTotal     prometheus.Gauge
	swapsTotal     *prometheus.CounterVec
	swapVolume     *prometheus.CounterVec
	swapFees       *prometheus.CounterVec
	reserves       *prometheus.GaugeVec
	totalShares    *prometheus.GaugeVec
	openOrders     *prometheus.GaugeVec
	ordersClosed   *prometheus.CounterVec
	rewardsClaimed *prometheus.CounterVec
	rewardsFunded  *prometheus.CounterVec
	rejected       *prometheus.CounterVec
}

var _ dex.EventSink = (*Collector)(nil)

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts(opts(name, help)), labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts(opts(name, help)), labels)
	}

	return &Collector{
		registry:       reg,
		events:         counter("events_total", "Committed engine events by type.", "type"),
		poolsTotal:     f.NewGauge(prometheus.GaugeOpts(opts("pools", "Number of pools created."))),
		swapsTotal:     counter("swaps_total", "Executed swaps, including limit order fills.", "pool_id", "token_in"),
		swapVolume:     counter("swap_volume_total", "Swap input volume in base units.", "pool_id", "token"),
		swapFees:       counter("swap_fees_total", "Swap fees collected in base units.", "pool_id", "token"),
		reserves:       gauge("reserves", "Pool reserves in base units after the latest event.", "pool_id", "token"),
		totalShares:    gauge("total_shares", "Outstanding liquidity shares.", "pool_id"),
		openOrders:     gauge("open_orders", "Open limit orders.", "pool_id"),
		ordersClosed:   counter("orders_closed_total", "Limit orders leaving the open state.", "pool_id", "status"),
		rewardsClaimed: counter("rewards_claimed_total", "Reward tokens paid to providers.", "pool_id"),
		rewardsFunded:  counter("rewards_funded_total", "Reward tokens added to pool budgets.", "pool_id"),
		rejected:       counter("rejected_operations_total", "Operations rejected by the engine.", "op", "code"),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Publish records one committed event.
func (c *Collector) Publish(_ context.Context, ev model.Event) error {
	c.events.WithLabelValues(ev.Type).Inc()
	c.reserves.WithLabelValues(ev.PoolID, ev.TokenA).Set(amountFloat(ev.After.ReserveA))
	c.reserves.WithLabelValues(ev.PoolID, ev.TokenB).Set(amountFloat(ev.After.ReserveB))
	c.totalShares.WithLabelValues(ev.PoolID).Set(amountFloat(ev.After.TotalShares))

	switch ev.Type {
	case model.EventPoolCreated:
		c.poolsTotal.Inc()
		c.openOrders.WithLabelValues(ev.PoolID).Set(0)
	case model.EventSwap:
		c.swapsTotal.WithLabelValues(ev.PoolID, ev.TokenIn).Inc()
		c.swapVolume.WithLabelValues(ev.PoolID, ev.TokenIn).Add(amountFloat(ev.AmountIn))
		c.swapFees.WithLabelValues(ev.PoolID, ev.TokenIn).Add(amountFloat(ev.Fee))
	case model.EventOrderCreated:
		c.openOrders.WithLabelValues(ev.PoolID).Inc()
	case model.EventOrderFilled, model.EventOrderCancelled, model.EventOrderExpired:
		c.openOrders.WithLabelValues(ev.PoolID).Dec()
		c.ordersClosed.WithLabelValues(ev.PoolID, ev.Type).Inc()
	case model.EventRewardsClaimed:
		c.rewardsClaimed.WithLabelValues(ev.PoolID).Add(amountFloat(ev.Rewards))
	case model.EventRewardsFunded:
		c.rewardsFunded.WithLabelValues(ev.PoolID).Add(amountFloat(ev.Rewards))
	}
	return nil
}

// ObserveRejected counts a failed operation by its error code.
func (c *Collector) ObserveRejected(op string, err error) {
	if err == nil {
		return
	}
	c.rejected.WithLabelValues(op, dex.ErrorCode(err)).Inc()
}

// amountFloat converts a base-10 amount for export. Values above 2^53 lose
// precision.
func amountFloat(value string) float64 {
	if value == "" {
		return 0
	}
	f, ok := new(big.Float).SetString(value)
	if !ok {
		return 0
	}
	out, _ := f.Float64()
	return out
}
