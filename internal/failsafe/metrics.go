package failsafe

import "github.com/prometheus/client_golang/prometheus"

// metricsExporter mirrors fired events into Prometheus counters, grouped
// by probe and level. Registration is optional: FailSafe works without
// it, per §4.13's silence on metrics as anything but an ambient concern.
type metricsExporter struct {
	events *prometheus.CounterVec
}

func newMetricsExporter(reg prometheus.Registerer) (*metricsExporter, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracehound",
		Subsystem: "failsafe",
		Name:      "events_total",
		Help:      "Total failsafe threshold events fired, by probe and level.",
	}, []string{"probe", "level"})

	if err := reg.Register(events); err != nil {
		return nil, err
	}
	return &metricsExporter{events: events}, nil
}

func (m *metricsExporter) observe(ev Event) {
	m.events.WithLabelValues(string(ev.Probe), string(ev.Level)).Inc()
}
