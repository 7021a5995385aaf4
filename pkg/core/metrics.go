package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics метрики ядра. nil-приемники допустимы: при выключенных метриках
// все методы становятся no-op.
type metrics struct {
	callsTotal       *prometheus.CounterVec
	callsActive      prometheus.Gauge
	stateTransitions *prometheus.CounterVec
	callFailures     *prometheus.CounterVec
	eventsTotal      *prometheus.CounterVec
	regsActive       prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer, namespace string) *metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &metrics{
		callsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Количество вызовов по направлению",
		}, []string{"direction"}),
		callsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Текущее количество неосвобожденных вызовов",
		}),
		stateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_state_transitions_total",
			Help:      "Переходы состояний вызовов",
		}, []string{"state"}),
		callFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_failures_total",
			Help:      "Отказы сигнального уровня по причинам",
		}, []string{"reason"}),
		eventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_events_total",
			Help:      "Обработанные сигнальные события по видам",
		}, []string{"kind"}),
		regsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registrations_active",
			Help:      "Регистрации в состоянии Ok",
		}),
	}
}

func (m *metrics) callStarted(direction string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(direction).Inc()
	m.callsActive.Inc()
}

func (m *metrics) callReleased() {
	if m == nil {
		return
	}
	m.callsActive.Dec()
}

func (m *metrics) stateChanged(state string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(state).Inc()
}

func (m *metrics) failure(reason string) {
	if m == nil {
		return
	}
	m.callFailures.WithLabelValues(reason).Inc()
}

func (m *metrics) event(kind string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind).Inc()
}

func (m *metrics) registrationUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.regsActive.Inc()
	} else {
		m.regsActive.Dec()
	}
}
