package events

import "fmt"

// Dispatcher owns the named streams.
type Dispatcher struct {
	streams map[string]*Stream
}

// NewDispatcher creates a dispatcher with one stream per name.
func NewDispatcher(queueSize int, names ...string) *Dispatcher {
	d := &Dispatcher{streams: make(map[string]*Stream, len(names))}
	for _, name := range names {
		d.streams[name] = NewStream(name, queueSize)
	}
	return d
}

// NewDefaultDispatcher creates the scan, heart-rate and SpO2 streams.
func NewDefaultDispatcher() *Dispatcher {
	return NewDispatcher(defaultQueueSize, StreamScan, StreamHeart, StreamSpO2)
}

// Stream returns the named stream, or an error if it does not exist.
func (d *Dispatcher) Stream(name string) (*Stream, error) {
	s, ok := d.streams[name]
	if !ok {
		return nil, fmt.Errorf("events: unknown stream %q", name)
	}
	return s, nil
}

// MustStream returns the named stream and panics if it does not exist.
// Used at wiring time where a missing stream is a programmer error.
func (d *Dispatcher) MustStream(name string) *Stream {
	s, err := d.Stream(name)
	if err != nil {
		panic(err)
	}
	return s
}

// Names lists the stream names.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.streams))
	for name := range d.streams {
		names = append(names, name)
	}
	return names
}

// Close stops every stream.
func (d *Dispatcher) Close() {
	for _, s := range d.streams {
		s.Close()
	}
}
