package ble

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// DefaultSimPassword is the password the simulated watch accepts.
const DefaultSimPassword = "0000"

// DefaultSimDevices is the set of watches Sim advertises when none are given.
var DefaultSimDevices = []ScanResult{
	{Name: "SIM-WATCH-1", Address: "C0:FF:EE:00:00:01", RSSI: -52},
	{Name: "SIM-WATCH-2", Address: "C0:FF:EE:00:00:02", RSSI: -71},
}

// Sim is an in-process Operator that behaves like a wearable without any
// radio. Sightings, heart-rate and SpO2 samples are produced every Interval.
type Sim struct {
	// Password is the binding password the device accepts.
	Password string
	// Interval paces sightings and detection samples.
	Interval time.Duration
	// SpO2 reports whether the device measures blood oxygen.
	SpO2 bool

	mu        sync.Mutex
	powered   bool
	devices   []ScanResult
	scanStop  chan struct{}
	scan      ScanHandler
	address   string
	state     int
	heartStop chan struct{}
	spo2Stop  chan struct{}
	warning   HeartWarningData
	battery   int
	listeners map[uint64]registeredListener
	nextID    uint64
}

// NewSim creates a powered simulator advertising devices. A nil slice uses
// DefaultSimDevices.
func NewSim(devices []ScanResult) *Sim {
	if devices == nil {
		devices = DefaultSimDevices
	}
	return &Sim{
		Password:  DefaultSimPassword,
		Interval:  time.Second,
		SpO2:      true,
		powered:   true,
		devices:   append([]ScanResult(nil), devices...),
		state:     StatusDisconnected,
		warning:   HeartWarningData{High: 120, Low: 50, Open: false, Status: "READ_SUCCESS"},
		battery:   80,
		listeners: make(map[uint64]registeredListener),
	}
}

func (s *Sim) IsBluetoothOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.powered
}

func (s *Sim) OpenBluetooth() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.powered = true
	return nil
}

func (s *Sim) CloseBluetooth() error {
	s.mu.Lock()
	s.powered = false
	s.mu.Unlock()
	s.StopScan()
	s.Disconnect()
	return nil
}

func (s *Sim) StartScan(h ScanHandler) error {
	s.mu.Lock()
	if !s.powered {
		s.mu.Unlock()
		return fmt.Errorf("ble: adapter is off")
	}
	if s.scanStop != nil {
		s.mu.Unlock()
		return fmt.Errorf("ble: scan already in progress")
	}
	stop := make(chan struct{})
	s.scanStop = stop
	s.scan = h
	devices := append([]ScanResult(nil), s.devices...)
	interval := s.Interval
	s.mu.Unlock()

	go func() {
		if h.OnStarted != nil {
			h.OnStarted()
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			for _, d := range devices {
				if h.OnFound != nil {
					d.RSSI += rand.IntN(7) - 3
					h.OnFound(d)
				}
			}
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func (s *Sim) StopScan() error {
	s.mu.Lock()
	stop := s.scanStop
	h := s.scan
	s.scanStop = nil
	s.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	if h.OnStopped != nil {
		h.OnStopped()
	}
	return nil
}

func (s *Sim) RegisterConnectStatusListener(address string, l StatusListener) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = registeredListener{address: address, fn: l}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Sim) notifyStatus(address string, connected bool) {
	s.mu.Lock()
	var targets []StatusListener
	for _, l := range s.listeners {
		if l.address == address {
			targets = append(targets, l.fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range targets {
		fn(address, connected)
	}
}

func (s *Sim) known(address string) bool {
	for _, d := range s.devices {
		if d.Address == address {
			return true
		}
	}
	return false
}

func (s *Sim) Connect(address string, onConnect ConnectCallback, onNotify NotifyCallback) error {
	s.mu.Lock()
	if !s.powered {
		s.mu.Unlock()
		return fmt.Errorf("ble: adapter is off")
	}
	known := s.known(address)
	s.address = address
	s.state = StatusConnecting
	s.mu.Unlock()

	go func() {
		if !known {
			s.mu.Lock()
			s.state = StatusDisconnected
			s.mu.Unlock()
			onConnect(CodeFailed, false)
			return
		}

		s.mu.Lock()
		s.state = StatusConnected
		s.mu.Unlock()
		slog.Debug("[SIM] connected", "address", address)

		onConnect(CodeSuccess, true)
		s.notifyStatus(address, true)
		onNotify(CodeSuccess)
	}()
	return nil
}

func (s *Sim) Disconnect() error {
	s.mu.Lock()
	address := s.address
	wasConnected := s.state == StatusConnected
	s.state = StatusDisconnected
	s.stopLocked(&s.heartStop)
	s.stopLocked(&s.spo2Stop)
	s.mu.Unlock()

	if wasConnected {
		s.notifyStatus(address, false)
	}
	return nil
}

func (s *Sim) stopLocked(ch *chan struct{}) {
	if *ch != nil {
		close(*ch)
		*ch = nil
	}
}

func (s *Sim) ConnectStatus(address string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if address == "" || address != s.address {
		return StatusUnknown
	}
	return s.state
}

func (s *Sim) CurrentAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatusConnected {
		return ""
	}
	return s.address
}

func (s *Sim) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StatusConnected
}

func (s *Sim) ConfirmPassword(password string, use24H bool, onData func(PasswordData)) error {
	s.mu.Lock()
	connected := s.state == StatusConnected
	want := s.Password
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	status := PasswordCheckFail
	if password == want {
		status = PasswordCheckAndTimeSuccess
	}
	go onData(PasswordData{Status: status, DeviceNumber: 1, Version: "sim-1.0"})
	return nil
}

// startTicker runs tick every Interval until the returned channel is closed.
func (s *Sim) startTicker(slot *chan struct{}, tick func(n int)) error {
	s.mu.Lock()
	if s.state != StatusConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.stopLocked(slot)
	stop := make(chan struct{})
	*slot = stop
	interval := s.Interval
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for n := 0; ; n++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
				tick(n)
			}
		}
	}()
	return nil
}

func (s *Sim) StartDetectHeart(onData func(HeartData)) error {
	return s.startTicker(&s.heartStop, func(int) {
		onData(HeartData{Value: 60 + rand.IntN(40), Status: "STATE_HEART_NORMAL"})
	})
}

func (s *Sim) StopDetectHeart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.heartStop)
	return nil
}

func (s *Sim) SetHeartWarning(high, low int, open bool, onData func(HeartWarningData)) error {
	s.mu.Lock()
	if s.state != StatusConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.warning = HeartWarningData{High: high, Low: low, Open: open, Status: "SETTING_SUCCESS"}
	data := s.warning
	s.mu.Unlock()

	go onData(data)
	return nil
}

func (s *Sim) ReadHeartWarning(onData func(HeartWarningData)) error {
	s.mu.Lock()
	if s.state != StatusConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	data := s.warning
	data.Status = "READ_SUCCESS"
	s.mu.Unlock()

	go onData(data)
	return nil
}

func (s *Sim) SupportsSpO2() bool {
	return s.SpO2
}

func (s *Sim) StartDetectSpO2(onData func(SpO2Data)) error {
	if !s.SpO2 {
		return ErrUnsupported
	}
	return s.startTicker(&s.spo2Stop, func(n int) {
		progress := min((n+1)*10, 100)
		onData(SpO2Data{
			State:            "OPEN",
			DeviceState:      "NORMAL",
			Value:            95 + rand.IntN(5),
			Checking:         progress < 100,
			CheckingProgress: progress,
			Rate:             60 + rand.IntN(40),
		})
	})
}

func (s *Sim) StopDetectSpO2() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.spo2Stop)
	return nil
}

func (s *Sim) ReadBattery(onData func(BatteryData)) error {
	s.mu.Lock()
	if s.state != StatusConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	percent := s.battery
	s.mu.Unlock()

	data := batteryFromPercent(percent)
	data.State = 1
	go onData(data)
	return nil
}

var _ Operator = (*Sim)(nil)
