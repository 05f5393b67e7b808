package stats

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

type collector struct {
	stats *Stats

	openConnections   *prometheus.Desc
	openedConnections *prometheus.Desc
	requests          *prometheus.Desc
	announces         *prometheus.Desc
	successAnnounces  *prometheus.Desc
	scrapes           *prometheus.Desc
	leechers          *prometheus.Desc
	seeders           *prometheus.Desc
	bytesRead         *prometheus.Desc
	bytesWritten      *prometheus.Desc
}

// Collector exposes the counters as prometheus metrics.
func (s *Stats) Collector() prometheus.Collector {
	return &collector{
		stats: s,
		openConnections: prometheus.NewDesc(
			"serval_open_connections", "Currently open client connections", nil, nil),
		openedConnections: prometheus.NewDesc(
			"serval_opened_connections_total", "Client connections accepted since start", nil, nil),
		requests: prometheus.NewDesc(
			"serval_requests_total", "HTTP requests served since start", nil, nil),
		announces: prometheus.NewDesc(
			"serval_announces_total", "Announce requests since start", nil, nil),
		successAnnounces: prometheus.NewDesc(
			"serval_successful_announces_total", "Announce requests answered without failure", nil, nil),
		scrapes: prometheus.NewDesc(
			"serval_scrapes_total", "Scrape requests since start", nil, nil),
		leechers: prometheus.NewDesc(
			"serval_leechers", "Leeching peers currently tracked", nil, nil),
		seeders: prometheus.NewDesc(
			"serval_seeders", "Seeding peers currently tracked", nil, nil),
		bytesRead: prometheus.NewDesc(
			"serval_bytes_read_total", "Request bytes read since start", nil, nil),
		bytesWritten: prometheus.NewDesc(
			"serval_bytes_written_total", "Response bytes written since start", nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openConnections
	ch <- c.openedConnections
	ch <- c.requests
	ch <- c.announces
	ch <- c.successAnnounces
	ch <- c.scrapes
	ch <- c.leechers
	ch <- c.seeders
	ch <- c.bytesRead
	ch <- c.bytesWritten
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v *int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(atomic.LoadInt64(v)))
	}
	counter := func(d *prometheus.Desc, v *int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(atomic.LoadInt64(v)))
	}

	gauge(c.openConnections, &c.stats.OpenConnections)
	counter(c.openedConnections, &c.stats.OpenedConnections)
	counter(c.requests, &c.stats.Requests)
	counter(c.announces, &c.stats.Announces)
	counter(c.successAnnounces, &c.stats.SuccessfulAnnounces)
	counter(c.scrapes, &c.stats.Scrapes)
	gauge(c.leechers, &c.stats.Leechers)
	gauge(c.seeders, &c.stats.Seeders)
	counter(c.bytesRead, &c.stats.BytesRead)
	counter(c.bytesWritten, &c.stats.BytesWritten)
}
