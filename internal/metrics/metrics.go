// ABOUTME: Prometheus collectors for the stream manager, view store, and dev server
// ABOUTME: Collectors are per instance and registered on a caller-supplied registerer

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agentcomm"

// Frame kinds counted by Stream.Frames.
const (
	FrameMessage   = "message"
	FrameHeartbeat = "heartbeat"
	FrameMalformed = "malformed"
	FrameReplayed  = "replayed"
)

// Stream holds the stream connection manager's collectors.
type Stream struct {
	Connected  prometheus.Gauge
	Connects   prometheus.Counter
	Disconnect prometheus.Counter
	Frames     *prometheus.CounterVec
}

// NewStream creates stream collectors and registers them on reg when reg
// is non-nil.
func NewStream(reg prometheus.Registerer) *Stream {
	s := &Stream{
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connected",
			Help:      "1 while the event stream is connected.",
		}),
		Connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connects_total",
			Help:      "Successful event stream connections.",
		}),
		Disconnect: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "disconnects_total",
			Help:      "Event stream connections lost or refused.",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Event stream frames by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(s.Connected, s.Connects, s.Disconnect, s.Frames)
	}
	return s
}

// Frame counts one frame of the given kind.
func (s *Stream) Frame(kind string) {
	s.Frames.WithLabelValues(kind).Inc()
}

// Store holds the conversation view store's collectors.
type Store struct {
	Ingested *prometheus.CounterVec
}

// NewStore creates store collectors and registers them on reg when reg is
// non-nil.
func NewStore(reg prometheus.Registerer) *Store {
	s := &Store{
		Ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "ingested_total",
			Help:      "Messages merged into the view store by route and outcome.",
		}, []string{"route", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(s.Ingested)
	}
	return s
}

// Server holds the dev server's collectors.
type Server struct {
	Requests *prometheus.CounterVec
	Sent     prometheus.Counter
	Streams  prometheus.Gauge
}

// NewServer creates server collectors and registers them on reg when reg is
// non-nil.
func NewServer(reg prometheus.Registerer) *Server {
	s := &Server{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		Sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "messages_sent_total",
			Help:      "Messages accepted by the send endpoint.",
		}),
		Streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "open_streams",
			Help:      "Event streams currently open.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.Requests, s.Sent, s.Streams)
	}
	return s
}
