package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports engine state as Prometheus metrics. It reads the
// engine on every scrape and never mutates it.
type Collector struct {
	eng *Engine

	uploadTotal   *prometheus.Desc
	downloadTotal *prometheus.Desc
	connections   *prometheus.Desc
	outboundUp    *prometheus.Desc
	outboundDown  *prometheus.Desc
	dropped       *prometheus.Desc
	regressions   *prometheus.Desc
	snapshots     *prometheus.Desc
}

// NewCollector creates a collector for eng with the given metric prefix.
func NewCollector(eng *Engine, prefix string) *Collector {
	fqName := func(name string) string {
		return prometheus.BuildFQName(prefix, "", name)
	}
	return &Collector{
		eng: eng,
		uploadTotal: prometheus.NewDesc(fqName("upload_bytes_total"),
			"Cumulative bytes uploaded as reported by the controller.", nil, nil),
		downloadTotal: prometheus.NewDesc(fqName("download_bytes_total"),
			"Cumulative bytes downloaded as reported by the controller.", nil, nil),
		connections: prometheus.NewDesc(fqName("connections"),
			"Tracked connections by state.", []string{"state"}, nil),
		outboundUp: prometheus.NewDesc(fqName("outbound_upload_speed_bytes"),
			"Upload bytes per tick summed by outbound node.", []string{"outbound"}, nil),
		outboundDown: prometheus.NewDesc(fqName("outbound_download_speed_bytes"),
			"Download bytes per tick summed by outbound node.", []string{"outbound"}, nil),
		dropped: prometheus.NewDesc(fqName("feed_dropped_records_total"),
			"Connection records skipped as malformed.", nil, nil),
		regressions: prometheus.NewDesc(fqName("feed_counter_regressions_total"),
			"Per-connection counters that went backwards.", nil, nil),
		snapshots: prometheus.NewDesc(fqName("feed_snapshots_total"),
			"Snapshots reconciled.", nil, nil),
	}
}

// Describe sends all descriptors.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.uploadTotal
	ch <- c.downloadTotal
	ch <- c.connections
	ch <- c.outboundUp
	ch <- c.outboundDown
	ch <- c.dropped
	ch <- c.regressions
	ch <- c.snapshots
}

// Collect reads the engine and emits current values.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	totals := c.eng.Totals()
	ch <- prometheus.MustNewConstMetric(c.uploadTotal, prometheus.CounterValue, float64(totals.Upload))
	ch <- prometheus.MustNewConstMetric(c.downloadTotal, prometheus.CounterValue, float64(totals.Download))

	active, closed := c.eng.Counts()
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(active), "active")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(closed), "closed")

	type traffic struct{ up, down int64 }
	byOutbound := make(map[string]traffic)
	c.eng.mu.RLock()
	for _, conn := range c.eng.store.conns {
		if conn.Completed {
			continue
		}
		outbound := "DIRECT"
		if len(conn.Chains) > 0 && conn.Chains[0] != "" {
			outbound = conn.Chains[0]
		}
		t := byOutbound[outbound]
		t.up += conn.Speed.Upload
		t.down += conn.Speed.Download
		byOutbound[outbound] = t
	}
	c.eng.mu.RUnlock()
	for name, t := range byOutbound {
		ch <- prometheus.MustNewConstMetric(c.outboundUp, prometheus.GaugeValue, float64(t.up), name)
		ch <- prometheus.MustNewConstMetric(c.outboundDown, prometheus.GaugeValue, float64(t.down), name)
	}

	st, _ := c.eng.Stats()
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(st.Dropped))
	ch <- prometheus.MustNewConstMetric(c.regressions, prometheus.CounterValue, float64(st.Regressions))
	ch <- prometheus.MustNewConstMetric(c.snapshots, prometheus.CounterValue, float64(st.Snapshots))
}
