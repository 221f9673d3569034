package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_store_appends_total",
		Help: "Messages durably appended.",
	})
	readsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_store_reads_total",
		Help: "Range reads served from the message keyspace.",
	})
)
