package launcher

import (
	"sort"
	"time"

	"github.com/armon/go-metrics"
	"github.com/sirupsen/logrus"
)

// startMetrics installs an in-memory sink as the global metrics sink.
func startMetrics(cfg MetricsConfig) (*metrics.InmemSink, error) {
	sink := metrics.NewInmemSink(cfg.Interval, 10*cfg.Interval)
	conf := metrics.DefaultConfig("txbuilder")
	conf.EnableHostname = false
	conf.EnableRuntimeMetrics = false
	conf.TimerGranularity = time.Millisecond
	if _, err := metrics.NewGlobal(conf, sink); err != nil {
		return nil, err
	}
	return sink, nil
}

// logCounters logs the totals of every counter the sink saw.
func logCounters(sink *metrics.InmemSink, log logrus.FieldLogger) {
	totals := make(map[string]int)
	for _, interval := range sink.Data() {
		for name, v := range interval.Counters {
			totals[name] += v.Count
		}
	}
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		log.WithFields(logrus.Fields{"counter": name, "count": totals[name]}).Info("Metrics")
	}
}
