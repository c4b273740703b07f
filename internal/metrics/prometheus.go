package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors holds the prometheus view of the pipeline. It is registered on an
// explicit registry so tests can build isolated instances.
type Collectors struct {
	MessagesProcessed  *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	Deliveries         *prometheus.CounterVec
	DeliveryCost       *prometheus.CounterVec
	CampaignsCompleted prometheus.Counter
}

func NewCollectors(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		MessagesProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consumer_messages_total",
				Help: "Messages handled by pipeline consumers",
			},
			[]string{"consumer", "outcome"}, // ok, error, invalid
		),
		ProcessingDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "consumer_processing_duration_seconds",
				Help:    "Per-message handler latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"consumer"},
		),
		Deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deliveries_total",
				Help: "Delivery outcomes by stage and status",
			},
			[]string{"stage", "status"}, // stage: send, receipt
		),
		DeliveryCost: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_cost_total",
				Help: "Cumulative vendor cost confirmed by receipts",
			},
			[]string{"vendor"},
		),
		CampaignsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "campaigns_completed_total",
			Help: "Campaigns that reached COMPLETED",
		}),
	}
}
