// Package metrics exports mainloop statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/yeaphone/handset/mainloop"
)

// Source is implemented by *mainloop.Loop.
type Source interface {
	Metrics() mainloop.Metrics
}

// Collector is a prometheus.Collector reading a loop's metrics on each
// scrape.
type Collector struct {
	source Source

	iterations   *prometheus.Desc
	wakeups      *prometheus.Desc
	timersFired  *prometheus.Desc
	ioCallbacks  *prometheus.Desc
	panics       *prometheus.Desc
	tableGrowths *prometheus.Desc
	activeSlots  *prometheus.Desc
	tableSize    *prometheus.Desc
	latency      *prometheus.Desc
	latencyMean  *prometheus.Desc
	latencyCount *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for source. Latency series are only
// reported once the loop has sampled a callback, see mainloop.WithMetrics.
func NewCollector(source Source) *Collector {
	const ns = "handset_mainloop"
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(ns, "", name), help, labels, nil)
	}
	return &Collector{
		source:       source,
		iterations:   desc("iterations_total", "Completed readiness waits."),
		wakeups:      desc("wakeups_total", "Waits interrupted by the wakeup channel."),
		timersFired:  desc("timers_fired_total", "Timer callbacks run."),
		ioCallbacks:  desc("io_callbacks_total", "I/O watch callbacks run."),
		panics:       desc("callback_panics_total", "Callbacks that panicked and were recovered."),
		tableGrowths: desc("table_growths_total", "Event table growths past the initial size."),
		activeSlots:  desc("active_events", "Registered events."),
		tableSize:    desc("table_slots", "Event table slots, empty or not."),
		latency:      desc("callback_latency_seconds", "Callback execution time over the recent window.", "quantile"),
		latencyMean:  desc("callback_latency_mean_seconds", "Mean callback execution time over the recent window."),
		latencyCount: desc("callback_latency_samples", "Callback durations in the recent window."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range [...]*prometheus.Desc{
		c.iterations,
		c.wakeups,
		c.timersFired,
		c.ioCallbacks,
		c.panics,
		c.tableGrowths,
		c.activeSlots,
		c.tableSize,
		c.latency,
		c.latencyMean,
		c.latencyCount,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.source.Metrics()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.iterations, m.Iterations)
	counter(c.wakeups, m.Wakeups)
	counter(c.timersFired, m.TimersFired)
	counter(c.ioCallbacks, m.IOCallbacks)
	counter(c.panics, m.Panics)
	counter(c.tableGrowths, m.TableGrowths)

	ch <- prometheus.MustNewConstMetric(c.activeSlots, prometheus.GaugeValue, float64(m.ActiveSlots))
	ch <- prometheus.MustNewConstMetric(c.tableSize, prometheus.GaugeValue, float64(m.TableSize))

	if m.Latency.Count == 0 {
		return
	}
	for _, q := range [...]struct {
		label string
		value float64
	}{
		{"0.5", m.Latency.P50.Seconds()},
		{"0.9", m.Latency.P90.Seconds()},
		{"0.99", m.Latency.P99.Seconds()},
		{"1", m.Latency.Max.Seconds()},
	} {
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, q.value, q.label)
	}
	ch <- prometheus.MustNewConstMetric(c.latencyMean, prometheus.GaugeValue, m.Latency.Mean.Seconds())
	ch <- prometheus.MustNewConstMetric(c.latencyCount, prometheus.GaugeValue, float64(m.Latency.Count))
}
