package client

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics counts client activity. Every series lives in its own set so
// several clients in one process do not collide.
type Metrics struct {
	set *metrics.Set
}

// NewMetrics creates an empty metric set
func NewMetrics() *Metrics {
	return &Metrics{set: metrics.NewSet()}
}

// WritePrometheus writes every series in text exposition format
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

func (m *Metrics) counter(name, label, value string) *metrics.Counter {
	return m.set.GetOrCreateCounter(fmt.Sprintf(`%s{%s=%q}`, name, label, value))
}

func (m *Metrics) putSucceeded(topic string, elapsed time.Duration) {
	m.counter("metaq_put_total", "topic", topic).Inc()
	m.set.GetOrCreateHistogram(fmt.Sprintf(`metaq_put_duration_seconds{topic=%q}`, topic)).Update(elapsed.Seconds())
}

func (m *Metrics) putFailed(topic string) {
	m.counter("metaq_put_errors_total", "topic", topic).Inc()
}

func (m *Metrics) failover(topic string) {
	m.counter("metaq_put_failovers_total", "topic", topic).Inc()
}

func (m *Metrics) polled(topic string, messages int) {
	m.counter("metaq_polls_total", "topic", topic).Inc()
	if messages > 0 {
		m.counter("metaq_messages_total", "topic", topic).Add(messages)
	}
}

func (m *Metrics) pollFailed(topic string) {
	m.counter("metaq_poll_errors_total", "topic", topic).Inc()
}

func (m *Metrics) redirected(topic string) {
	m.counter("metaq_redirects_total", "topic", topic).Inc()
}

func (m *Metrics) rebalanced(group string) {
	m.counter("metaq_rebalances_total", "group", group).Inc()
}

func (m *Metrics) rebalanceFailed(group string) {
	m.counter("metaq_rebalance_failures_total", "group", group).Inc()
}

// Counter returns the current value of a counter, or zero if it was never
// touched.
func (m *Metrics) Counter(name, label, value string) uint64 {
	return m.counter(name, label, value).Get()
}
