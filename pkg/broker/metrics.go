package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	delivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_broker_delivered_total",
		Help: "Live messages delivered to subscribers.",
	})
	subsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_broker_subscribers_dropped_total",
		Help: "Subscribers dropped for falling behind.",
	})
	subsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_broker_subscribers_active",
		Help: "Currently registered live subscriptions.",
	})
)
