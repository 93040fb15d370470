package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/hwswitch"
	"github.com/frobware/go-saiagent/sai"
)

// Source is the switch state a SwitchCollector reads at scrape time.
// *hwswitch.Switch implements it.
type Source interface {
	ObjectCounts() map[sai.ObjectType]int
	AllPortStats() map[saiagent.PortID]map[sai.StatID]uint64
	EventStats() hwswitch.EventStats
	BootType() hwswitch.BootType
}

// SwitchCollector is a prometheus.Collector over one switch.
type SwitchCollector struct {
	src Source

	objects   *prometheus.Desc
	port      *prometheus.Desc
	packets   *prometheus.Desc
	linkEvent *prometheus.Desc
	boot      *prometheus.Desc
}

// NewSwitchCollector returns a collector for src. index labels every
// series so that several switches can share a registry.
func NewSwitchCollector(src Source, index uint32) *SwitchCollector {
	labels := prometheus.Labels{"switch_index": strconv.FormatUint(uint64(index), 10)}
	return &SwitchCollector{
		src: src,
		objects: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "objects"),
			"Live hardware objects by type.",
			[]string{"object_type"}, labels,
		),
		port: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "port", "counter_total"),
			"Last collected port counters.",
			[]string{"port", "counter"}, labels,
		),
		packets: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "rx", "packets_total"),
			"Packets delivered by the adapter by outcome.",
			[]string{"outcome"}, labels,
		),
		linkEvent: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "link", "events_total"),
			"Link state events delivered by the adapter.",
			nil, labels,
		),
		boot: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "switch", "boot_info"),
			"How the switch came up.",
			[]string{"boot_type"}, labels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *SwitchCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.objects
	ch <- c.port
	ch <- c.packets
	ch <- c.linkEvent
	ch <- c.boot
}

// Collect implements prometheus.Collector.
func (c *SwitchCollector) Collect(ch chan<- prometheus.Metric) {
	for t, n := range c.src.ObjectCounts() {
		ch <- prometheus.MustNewConstMetric(c.objects, prometheus.GaugeValue, float64(n), t.String())
	}
	for id, stats := range c.src.AllPortStats() {
		port := strconv.FormatUint(uint64(id), 10)
		for stat, v := range stats {
			ch <- prometheus.MustNewConstMetric(c.port, prometheus.CounterValue, float64(v), port, sai.PortStatName(stat))
		}
	}

	ev := c.src.EventStats()
	ch <- prometheus.MustNewConstMetric(c.packets, prometheus.CounterValue, float64(ev.PacketsReceived), "received")
	ch <- prometheus.MustNewConstMetric(c.packets, prometheus.CounterValue, float64(ev.PacketsDropped), "dropped")
	ch <- prometheus.MustNewConstMetric(c.packets, prometheus.CounterValue, float64(ev.PacketsUnknown), "unknown_port")
	ch <- prometheus.MustNewConstMetric(c.linkEvent, prometheus.CounterValue, float64(ev.LinkEvents))

	if bt := c.src.BootType(); bt != "" {
		ch <- prometheus.MustNewConstMetric(c.boot, prometheus.GaugeValue, 1, string(bt))
	}
}
