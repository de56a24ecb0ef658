package NetMonitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "netmonitor"

// Metrics 监视器的 Prometheus 指标
//
// 所有方法对 nil 接收者安全，未配置指标时直接跳过。
type Metrics struct {
	ranges    *prometheus.GaugeVec
	available prometheus.Gauge
	mutations *prometheus.CounterVec
	events    *prometheus.CounterVec
	dropped   prometheus.Counter
}

// NewMetrics 创建并注册指标，reg 为 nil 时只创建不注册
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ranges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "ranges",
			Help:      "Number of locally reachable address ranges, by family.",
		}, []string{"family"}),
		available: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "available",
			Help:      "1 if a default range is present, 0 otherwise.",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "mutations_total",
			Help:      "Range set mutations, by operation and result.",
		}, []string{"op", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Change notifications emitted, by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dropped_total",
			Help:      "Notifications dropped because a subscriber queue was full.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.ranges, m.available, m.mutations, m.events, m.dropped} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observeState(v4, v6 int, available bool) {
	if m == nil {
		return
	}
	m.ranges.WithLabelValues(FamilyIPv4.String()).Set(float64(v4))
	m.ranges.WithLabelValues(FamilyIPv6.String()).Set(float64(v6))
	if available {
		m.available.Set(1)
	} else {
		m.available.Set(0)
	}
}

func (m *Metrics) mutation(op string, changed bool) {
	if m == nil {
		return
	}
	result := "noop"
	if changed {
		result = "changed"
	}
	m.mutations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) emitted(events []Event) {
	if m == nil {
		return
	}
	for _, ev := range events {
		m.events.WithLabelValues(ev.Type.String()).Inc()
	}
}

func (m *Metrics) eventsDropped(n int) {
	if m == nil {
		return
	}
	m.dropped.Add(float64(n))
}
