package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeaphone/handset/mainloop"
)

type staticSource mainloop.Metrics

func (x staticSource) Metrics() mainloop.Metrics { return mainloop.Metrics(x) }

func TestCollector_static(t *testing.T) {
	c := NewCollector(staticSource{
		Iterations:  10,
		Wakeups:     3,
		TimersFired: 7,
		IOCallbacks: 2,
		Panics:      1,
		ActiveSlots: 4,
		TableSize:   6,
	})

	assert.Equal(t, 8, testutil.CollectAndCount(c), "latency series are omitted without samples")
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(`
# HELP handset_mainloop_active_events Registered events.
# TYPE handset_mainloop_active_events gauge
handset_mainloop_active_events 4
# HELP handset_mainloop_callback_panics_total Callbacks that panicked and were recovered.
# TYPE handset_mainloop_callback_panics_total counter
handset_mainloop_callback_panics_total 1
# HELP handset_mainloop_timers_fired_total Timer callbacks run.
# TYPE handset_mainloop_timers_fired_total counter
handset_mainloop_timers_fired_total 7
`),
		"handset_mainloop_active_events",
		"handset_mainloop_callback_panics_total",
		"handset_mainloop_timers_fired_total",
	))
}

func TestCollector_latency(t *testing.T) {
	c := NewCollector(staticSource{
		Latency: mainloop.LatencyMetrics{
			P50:   time.Millisecond,
			P90:   2 * time.Millisecond,
			P99:   4 * time.Millisecond,
			Max:   8 * time.Millisecond,
			Mean:  1500 * time.Microsecond,
			Count: 12,
		},
	})
	assert.Equal(t, 8+6, testutil.CollectAndCount(c))
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(`
# HELP handset_mainloop_callback_latency_seconds Callback execution time over the recent window.
# TYPE handset_mainloop_callback_latency_seconds gauge
handset_mainloop_callback_latency_seconds{quantile="0.5"} 0.001
handset_mainloop_callback_latency_seconds{quantile="0.9"} 0.002
handset_mainloop_callback_latency_seconds{quantile="0.99"} 0.004
handset_mainloop_callback_latency_seconds{quantile="1"} 0.008
# HELP handset_mainloop_callback_latency_samples Callback durations in the recent window.
# TYPE handset_mainloop_callback_latency_samples gauge
handset_mainloop_callback_latency_samples 12
`),
		"handset_mainloop_callback_latency_seconds",
		"handset_mainloop_callback_latency_samples",
	))
}

func TestCollector_loop(t *testing.T) {
	loop, err := mainloop.New(mainloop.WithMetrics(true), mainloop.WithTimerResolution(time.Millisecond))
	require.NoError(t, err)
	defer func() { _ = loop.Close(); <-loop.Done() }()

	fired := make(chan struct{})
	_, err = loop.ScheduleTimer(1, 0, func(mainloop.EventID, mainloop.GroupID) { close(fired) })
	require.NoError(t, err)
	go func() { _ = loop.Run(context.Background()) }()
	<-fired

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(loop)))

	require.Eventually(t, func() bool {
		n, err := testutil.GatherAndCount(reg, "handset_mainloop_callback_latency_samples")
		return err == nil && n == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, float64(1), timersFired(t, reg))
}

func timersFired(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "handset_mainloop_timers_fired_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}
