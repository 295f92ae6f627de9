// Package metrics exposes relay counters through Prometheus collectors.
//
// All methods are safe to call on a nil *Metrics, which lets tests and
// embedders run the relay without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wirerelay"

// Registration results.
const (
	RegistrationOK    = "ok"
	RegistrationTaken = "taken"
)

// Drop reasons for relayed traffic.
const (
	DropNoPeer      = "no_peer"
	DropSendFailed  = "send_failed"
	DropRateLimited = "rate_limited"
)

// Metrics holds the collectors updated by the relay.
type Metrics struct {
	clientsOnline prometheus.Gauge
	registrations *prometheus.CounterVec
	chatMessages  prometheus.Counter
	framesRelayed prometheus.Counter
	bytesRelayed  prometheus.Counter
	dropped       *prometheus.CounterVec
	callOutcomes  *prometheus.CounterVec
	callsEnded    *prometheus.CounterVec
	sessionErrors prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		clientsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients_online",
			Help:      "Number of clients with a registered handle.",
		}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Handle registration attempts by result.",
		}, []string{"result"}),
		chatMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Chat lines broadcast to clients.",
		}),
		framesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_relayed_total",
			Help:      "Video frames forwarded to a call peer.",
		}),
		bytesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_bytes_relayed_total",
			Help:      "Video frame payload bytes forwarded to a call peer.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Messages or frames that were not delivered, by reason.",
		}, []string{"reason"}),
		callOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_negotiations_total",
			Help:      "Call negotiations by outcome.",
		}, []string{"outcome"}),
		callsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Accepted calls that ended, by reason.",
		}, []string{"reason"}),
		sessionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Sessions that ended with a transport or protocol error.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.clientsOnline,
			m.registrations,
			m.chatMessages,
			m.framesRelayed,
			m.bytesRelayed,
			m.dropped,
			m.callOutcomes,
			m.callsEnded,
			m.sessionErrors,
		)
	}
	return m
}

func (m *Metrics) ClientJoined() {
	if m == nil {
		return
	}
	m.clientsOnline.Inc()
	m.registrations.WithLabelValues(RegistrationOK).Inc()
}

func (m *Metrics) ClientLeft() {
	if m == nil {
		return
	}
	m.clientsOnline.Dec()
}

func (m *Metrics) HandleTaken() {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(RegistrationTaken).Inc()
}

func (m *Metrics) ChatBroadcast() {
	if m == nil {
		return
	}
	m.chatMessages.Inc()
}

func (m *Metrics) FrameRelayed(size int) {
	if m == nil {
		return
	}
	m.framesRelayed.Inc()
	m.bytesRelayed.Add(float64(size))
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// CallNegotiated counts a finished negotiation. outcome is one of the
// core.Outcome values.
func (m *Metrics) CallNegotiated(outcome string) {
	if m == nil {
		return
	}
	m.callOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CallEnded(reason string) {
	if m == nil {
		return
	}
	m.callsEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionError() {
	if m == nil {
		return
	}
	m.sessionErrors.Inc()
}
