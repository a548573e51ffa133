package metrics

import (
	"github.com/c360studio/agentflow/monitor"
	"github.com/prometheus/client_golang/prometheus"
)

// monitorCollector adapts monitor.Monitor.Stats() into Prometheus metrics
// without the monitor package itself depending on prometheus: Collect is
// only called at scrape time, so the snapshot is always current.
type monitorCollector struct {
	mon *monitor.Monitor

	scans          *prometheus.Desc
	resumesTried   *prometheus.Desc
	resumesGivenUp *prometheus.Desc
	trackedThreads *prometheus.Desc
}

func newMonitorCollector(mon *monitor.Monitor) *monitorCollector {
	return &monitorCollector{
		mon:            mon,
		scans:          prometheus.NewDesc("agentflow_monitor_scans_total", "Stalled-thread sweep scans performed by the monitor (C9).", nil, nil),
		resumesTried:   prometheus.NewDesc("agentflow_monitor_resumes_tried_total", "Resume attempts the monitor has made against stalled threads.", nil, nil),
		resumesGivenUp: prometheus.NewDesc("agentflow_monitor_resumes_given_up_total", "Stalled threads the monitor stopped trying to resume after exhausting max attempts.", nil, nil),
		trackedThreads: prometheus.NewDesc("agentflow_monitor_tracked_threads", "Threads currently registered with the monitor.", nil, nil),
	}
}

func (c *monitorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.scans
	ch <- c.resumesTried
	ch <- c.resumesGivenUp
	ch <- c.trackedThreads
}

func (c *monitorCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.mon.Stats()
	ch <- prometheus.MustNewConstMetric(c.scans, prometheus.CounterValue, float64(stats.ScansPerformed))
	ch <- prometheus.MustNewConstMetric(c.resumesTried, prometheus.CounterValue, float64(stats.ResumesTried))
	ch <- prometheus.MustNewConstMetric(c.resumesGivenUp, prometheus.CounterValue, float64(stats.ResumesGivenUp))
	ch <- prometheus.MustNewConstMetric(c.trackedThreads, prometheus.GaugeValue, float64(stats.TrackedThreads))
}
