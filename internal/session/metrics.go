package session

import "github.com/prometheus/client_golang/prometheus"

var (
	turnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llamachat",
		Subsystem: "session",
		Name:      "turns_total",
		Help:      "Finished turns by terminal status",
	}, []string{"status"})

	fragmentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "llamachat",
		Subsystem: "session",
		Name:      "fragments_total",
		Help:      "Fragments merged into the transcript",
	})

	throughputGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "llamachat",
		Subsystem: "session",
		Name:      "tokens_per_second",
		Help:      "Most recently published generation throughput",
	})
)

func init() {
	prometheus.MustRegister(turnsTotal, fragmentsTotal, throughputGauge)
}
