// Package events forwards payloads from device callbacks to the single
// listener subscribed to each named stream.
package events

import (
	"log/slog"
	"sync"
)

// Stream names exposed to clients.
const (
	StreamScan  = "scan_bluetooth_event_channel"
	StreamHeart = "detect_heart_event_channel"
	StreamSpO2  = "detect_spoh_event_channel"
)

// Sink receives events delivered on a stream.
type Sink func(payload any)

// defaultQueueSize bounds the events waiting for delivery on one stream.
const defaultQueueSize = 64

// Stream is a single-subscriber push channel. Emit never blocks; events are
// delivered in order by the stream's own goroutine.
type Stream struct {
	name string

	mu    sync.Mutex
	sink  Sink
	subID uint64

	queue chan any
	done  chan struct{}
	once  sync.Once
}

// NewStream creates a stream and starts its delivery goroutine.
func NewStream(name string, queueSize int) *Stream {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	s := &Stream{
		name:  name,
		queue: make(chan any, queueSize),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Name returns the stream name.
func (s *Stream) Name() string { return s.name }

// Subscribe installs sink as the only listener, replacing any previous one.
// The returned function unsubscribes; it is a no-op once another listener
// has replaced this one.
func (s *Stream) Subscribe(sink Sink) (unsubscribe func()) {
	s.mu.Lock()
	s.subID++
	id := s.subID
	replaced := s.sink != nil
	s.sink = sink
	s.mu.Unlock()

	if replaced {
		slog.Debug("[EVENTS] listener replaced", "stream", s.name)
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.subID == id {
			s.sink = nil
		}
	}
}

// HasListener reports whether a sink is subscribed.
func (s *Stream) HasListener() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink != nil
}

// Emit queues payload for delivery. Events emitted while nobody listens are
// discarded at delivery time; a full queue drops the event.
func (s *Stream) Emit(payload any) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- payload:
	default:
		slog.Warn("[EVENTS] queue full, dropping event", "stream", s.name)
	}
}

// Close stops delivery. Pending events are discarded.
func (s *Stream) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Stream) run() {
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.queue:
			s.mu.Lock()
			sink := s.sink
			s.mu.Unlock()
			if sink != nil {
				sink(payload)
			}
		}
	}
}
