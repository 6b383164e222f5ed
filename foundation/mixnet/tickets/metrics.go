package tickets

import (
	"math/big"
	"strconv"

	"github.com/ardanlabs/mixnode/foundation/mixnet/ticket"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	queued     prometheus.Counter
	persisted  *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	depth      prometheus.Gauge
	unrealized *prometheus.GaugeVec
}

func newMetrics() *metrics {
	return &metrics{
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mixnode",
			Subsystem: "tickets",
			Name:      "queued_total",
			Help:      "Number of ticket operations accepted into the queue.",
		}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mixnode",
			Subsystem: "tickets",
			Name:      "persisted_total",
			Help:      "Number of ticket operations written to the database.",
		}, []string{"op"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mixnode",
			Subsystem: "tickets",
			Name:      "dropped_total",
			Help:      "Number of ticket operations that were rejected or lost.",
		}, []string{"reason"}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mixnode",
			Subsystem: "tickets",
			Name:      "queue_depth",
			Help:      "Number of ticket operations waiting for the writer.",
		}),
		unrealized: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mixnode",
			Subsystem: "tickets",
			Name:      "unrealized_value",
			Help:      "Estimated unrealized ticket value per channel generation.",
		}, []string{"channel", "epoch"}),
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.queued, m.persisted, m.dropped, m.depth, m.unrealized} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *metrics) setUnrealized(key ticket.ChannelEpoch, value *uint256.Int) {
	f, _ := new(big.Float).SetInt(value.ToBig()).Float64()
	m.unrealized.WithLabelValues(key.ChannelID.String(), strconv.FormatUint(uint64(key.Epoch), 10)).Set(f)
}
