package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/simgunz/udp-ip-stack/internal/engine"
)

const namespace = "udpbench"

// StatsSource is satisfied by *engine.Engine.
type StatsSource interface {
	Stats() engine.Stats
}

// Metrics exports engine counters. Counter values are read from the engine
// at scrape time; the send rate is sampled once per second.
type Metrics struct {
	source   StatsSource
	registry *prometheus.Registry

	startedDesc    *prometheus.Desc
	completedDesc  *prometheus.Desc
	supersededDesc *prometheus.Desc
	sentDesc       *prometheus.Desc
	sendErrorsDesc *prometheus.Desc
	receivedDesc   *prometheus.Desc
	spuriousDesc   *prometheus.Desc
	malformedDesc  *prometheus.Desc
	throughputDesc *prometheus.Desc
	lossDesc       *prometheus.Desc
	stateDesc      *prometheus.Desc
	uptimeDesc     *prometheus.Desc

	sendRate prometheus.Gauge

	mu        sync.Mutex
	lastSent  uint64
	startTime time.Time
}

func NewMetrics(source StatsSource) *Metrics {
	direction := []string{"direction"}
	m := &Metrics{
		source:   source,
		registry: prometheus.NewRegistry(),

		startedDesc: prometheus.NewDesc(namespace+"_tests_started_total",
			"Tests started, by direction.", direction, nil),
		completedDesc: prometheus.NewDesc(namespace+"_tests_completed_total",
			"Tests completed with a result, by direction.", direction, nil),
		supersededDesc: prometheus.NewDesc(namespace+"_tests_superseded_total",
			"Tests cancelled by a newer start request.", nil, nil),
		sentDesc: prometheus.NewDesc(namespace+"_datagrams_sent_total",
			"Payload datagrams handed to the transport.", nil, nil),
		sendErrorsDesc: prometheus.NewDesc(namespace+"_datagram_send_errors_total",
			"Payload transmissions that returned an error.", nil, nil),
		receivedDesc: prometheus.NewDesc(namespace+"_datagrams_received_total",
			"Inbound datagrams consumed by an active test.", nil, nil),
		spuriousDesc: prometheus.NewDesc(namespace+"_datagrams_spurious_total",
			"Inbound datagrams discarded because no test expected them.", nil, nil),
		malformedDesc: prometheus.NewDesc(namespace+"_reports_malformed_total",
			"Report datagrams that could not be parsed.", nil, nil),
		throughputDesc: prometheus.NewDesc(namespace+"_last_throughput_mbps",
			"Throughput of the last completed test in MB/s.", direction, nil),
		lossDesc: prometheus.NewDesc(namespace+"_last_loss_percent",
			"Loss of the last completed test in percent.", direction, nil),
		stateDesc: prometheus.NewDesc(namespace+"_session_state",
			"Current session state (0 idle, 1 host to remote, 2 remote to host).", nil, nil),
		uptimeDesc: prometheus.NewDesc(namespace+"_uptime_seconds",
			"Seconds since the metrics exporter started.", nil, nil),

		sendRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "send_rate_pps",
			Help:      "Payload datagrams sent during the last second.",
		}),
		startTime: time.Now(),
	}
	m.registry.MustRegister(
		m,
		m.sendRate,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Start(ctxDone <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctxDone:
				return
			case <-ticker.C:
				m.updatePerSecond()
			}
		}
	}()
}

func (m *Metrics) updatePerSecond() {
	current := m.source.Stats().DatagramsSent
	m.mu.Lock()
	prev := m.lastSent
	m.lastSent = current
	m.mu.Unlock()
	if current < prev {
		prev = current
	}
	m.sendRate.Set(float64(current - prev))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.startedDesc
	ch <- m.completedDesc
	ch <- m.supersededDesc
	ch <- m.sentDesc
	ch <- m.sendErrorsDesc
	ch <- m.receivedDesc
	ch <- m.spuriousDesc
	ch <- m.malformedDesc
	ch <- m.throughputDesc
	ch <- m.lossDesc
	ch <- m.stateDesc
	ch <- m.uptimeDesc
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	st := m.source.Stats()
	h2r := engine.DirectionHostToRemote.String()
	r2h := engine.DirectionRemoteToHost.String()

	counter := func(desc *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}
	counter(m.startedDesc, st.StartedHostToRemote, h2r)
	counter(m.startedDesc, st.StartedRemoteToHost, r2h)
	counter(m.completedDesc, st.CompletedHostToRemote, h2r)
	counter(m.completedDesc, st.CompletedRemoteToHost, r2h)
	counter(m.supersededDesc, st.Superseded)
	counter(m.sentDesc, st.DatagramsSent)
	counter(m.sendErrorsDesc, st.SendErrors)
	counter(m.receivedDesc, st.DatagramsReceived)
	counter(m.spuriousDesc, st.DatagramsSpurious)
	counter(m.malformedDesc, st.ReportsMalformed)

	for _, last := range []*engine.Result{st.LastHostToRemote, st.LastRemoteToHost} {
		if last == nil {
			continue
		}
		dir := last.Direction.String()
		ch <- prometheus.MustNewConstMetric(m.throughputDesc, prometheus.GaugeValue, last.ThroughputMBps, dir)
		ch <- prometheus.MustNewConstMetric(m.lossDesc, prometheus.GaugeValue, last.LossPercent, dir)
	}

	ch <- prometheus.MustNewConstMetric(m.stateDesc, prometheus.GaugeValue, float64(st.State))
	ch <- prometheus.MustNewConstMetric(m.uptimeDesc, prometheus.GaugeValue, time.Since(m.startTime).Seconds())
}
