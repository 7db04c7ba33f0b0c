package manager

import "github.com/chaz8081/wearlink/internal/ble"

// Device is a discovered device as announced on the scan stream.
type Device struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int    `json:"rssi"`
}

// deviceSet holds the devices seen in one scan session, keyed by address
// and kept in first-seen order.
type deviceSet struct {
	delta   int
	devices []Device
	index   map[string]int
}

func newDeviceSet(delta int) *deviceSet {
	return &deviceSet{delta: delta, index: make(map[string]int)}
}

// observe records a sighting and reports whether the set changed in a way
// worth announcing: a new address, or an RSSI that moved by at least delta
// from the last announced value. Suppressed sightings leave the stored
// entry untouched so small drifts cannot accumulate unannounced.
func (s *deviceSet) observe(r ble.ScanResult) bool {
	d := Device{Name: r.Name, Address: r.Address, RSSI: r.RSSI}
	i, ok := s.index[r.Address]
	if !ok {
		s.index[r.Address] = len(s.devices)
		s.devices = append(s.devices, d)
		return true
	}
	if abs(s.devices[i].RSSI-r.RSSI) < s.delta {
		return false
	}
	if d.Name == "" {
		d.Name = s.devices[i].Name
	}
	s.devices[i] = d
	return true
}

// snapshot returns a copy safe to hand to another goroutine.
func (s *deviceSet) snapshot() []Device {
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out
}

func (s *deviceSet) reset() {
	s.devices = nil
	clear(s.index)
}

func (s *deviceSet) len() int { return len(s.devices) }

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
