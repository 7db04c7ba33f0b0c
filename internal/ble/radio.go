package ble

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
)

var (
	heartRateService     = bluetooth.New16BitUUID(0x180D)
	heartRateMeasurement = bluetooth.New16BitUUID(0x2A37)
	batteryService       = bluetooth.New16BitUUID(0x180F)
	batteryLevel         = bluetooth.New16BitUUID(0x2A19)
)

// Radio is an Operator over tinygo-org/bluetooth. It speaks the standard
// GATT heart-rate and battery services; vendor-specific operations
// (password binding, SpO2, heart-rate alarms) report ErrUnsupported.
type Radio struct {
	adapter *bluetooth.Adapter
	scanner scanner
	power   Power // nil when adapter power cannot be controlled

	enableOnce sync.Once
	enableErr  error

	mu          sync.Mutex
	scanning    bool
	scan        ScanHandler
	scanGen     uint64
	scanRunning uint64        // generation whose adapter scan has begun
	scanDone    chan struct{} // closed when the latest scan goroutine exits
	device     *bluetooth.Device
	address    string
	state      int
	heartChar  *bluetooth.DeviceCharacteristic
	onHeart    func(HeartData)
	listeners  map[uint64]registeredListener
	listenerID uint64
}

type registeredListener struct {
	address string
	fn      StatusListener
}

// NewRadio creates a Radio on the default adapter. power may be nil.
func NewRadio(power Power) *Radio {
	r := newRadio(adapterScanner{adapter: bluetooth.DefaultAdapter}, power)
	r.adapter = bluetooth.DefaultAdapter
	return r
}

func newRadio(sc scanner, power Power) *Radio {
	return &Radio{
		scanner:   sc,
		power:     power,
		state:     StatusDisconnected,
		listeners: make(map[uint64]registeredListener),
	}
}

func (r *Radio) enable() error {
	r.enableOnce.Do(func() {
		if err := r.scanner.Enable(); err != nil {
			r.enableErr = fmt.Errorf("ble: enable adapter: %w", err)
			return
		}
		if r.adapter != nil {
			r.adapter.SetConnectHandler(r.handleConnectEvent)
		}
	})
	return r.enableErr
}

// handleConnectEvent fans adapter-level link changes out to listeners.
func (r *Radio) handleConnectEvent(device bluetooth.Device, connected bool) {
	addr := device.Address.String()

	r.mu.Lock()
	if !connected && addr == r.address {
		r.device = nil
		r.heartChar = nil
		r.state = StatusDisconnected
	}
	var targets []StatusListener
	for _, l := range r.listeners {
		if l.address == addr {
			targets = append(targets, l.fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range targets {
		fn(addr, connected)
	}
}

func (r *Radio) IsBluetoothOpened() bool {
	if r.power != nil {
		on, err := r.power.Powered()
		if err != nil {
			slog.Warn("[BLE] read adapter power", "error", err)
			return false
		}
		return on
	}
	return r.enable() == nil
}

func (r *Radio) OpenBluetooth() error {
	if r.power != nil {
		if err := r.power.SetPowered(true); err != nil {
			return err
		}
	}
	return r.enable()
}

func (r *Radio) CloseBluetooth() error {
	if r.power == nil {
		return ErrUnsupported
	}
	return r.power.SetPowered(false)
}

// StartScan begins discovery. A scan started right after StopScan waits
// for the previous adapter scan to finish so the old teardown cannot stop
// the new discovery.
func (r *Radio) StartScan(h ScanHandler) error {
	if err := r.enable(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.scanning {
		r.mu.Unlock()
		return fmt.Errorf("ble: scan already in progress")
	}
	r.scanGen++
	gen := r.scanGen
	prev := r.scanDone
	done := make(chan struct{})
	r.scanDone = done
	r.scanning = true
	r.scan = h
	r.mu.Unlock()

	go r.runScan(gen, prev, done, h)
	return nil
}

func (r *Radio) runScan(gen uint64, prev, done chan struct{}, h ScanHandler) {
	defer close(done)
	if prev != nil {
		<-prev
	}

	r.mu.Lock()
	if !r.scanning || r.scanGen != gen {
		// Stopped while waiting; StopScan already reported OnStopped.
		r.mu.Unlock()
		return
	}
	r.scanRunning = gen
	r.mu.Unlock()

	if h.OnStarted != nil {
		h.OnStarted()
	}
	var stopStale sync.Once
	err := r.scanner.Scan(func(result ScanResult) {
		if !r.scanCurrent(gen) {
			// StopScan raced the start of the adapter scan.
			stopStale.Do(func() { r.scanner.StopScan() })
			return
		}
		if h.OnFound != nil {
			h.OnFound(result)
		}
	})

	r.mu.Lock()
	current := r.scanning && r.scanGen == gen
	if current {
		r.scanning = false
	}
	r.mu.Unlock()

	// StopScan reports OnStopped itself; only unexpected ends land here.
	if !current {
		return
	}
	if err != nil {
		slog.Warn("[BLE] scan ended", "error", err)
		if h.OnCanceled != nil {
			h.OnCanceled()
		}
		return
	}
	if h.OnStopped != nil {
		h.OnStopped()
	}
}

func (r *Radio) scanCurrent(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanning && r.scanGen == gen
}

func (r *Radio) StopScan() error {
	r.mu.Lock()
	if !r.scanning {
		r.mu.Unlock()
		return nil
	}
	r.scanning = false
	h := r.scan
	running := r.scanRunning == r.scanGen
	r.mu.Unlock()

	var err error
	if running {
		if stopErr := r.scanner.StopScan(); stopErr != nil {
			err = fmt.Errorf("ble: stop scan: %w", stopErr)
		}
	}
	// The scan is over for callers either way; a scan that had not yet
	// registered with the adapter stops itself on its first result.
	if h.OnStopped != nil {
		h.OnStopped()
	}
	return err
}

func (r *Radio) RegisterConnectStatusListener(address string, l StatusListener) func() {
	r.mu.Lock()
	r.listenerID++
	id := r.listenerID
	r.listeners[id] = registeredListener{address: address, fn: l}
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Radio) Connect(address string, onConnect ConnectCallback, onNotify NotifyCallback) error {
	if err := r.enable(); err != nil {
		return err
	}

	var addr bluetooth.Address
	addr.Set(address)

	r.mu.Lock()
	r.address = address
	r.state = StatusConnecting
	r.mu.Unlock()

	// tinygo/bluetooth's Connect blocks with its own timeout.
	go func() {
		device, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			slog.Warn("[BLE] connect failed", "address", address, "error", err)
			r.mu.Lock()
			r.state = StatusDisconnected
			r.mu.Unlock()
			onConnect(CodeFailed, false)
			return
		}

		r.mu.Lock()
		r.device = &device
		r.state = StatusConnected
		r.mu.Unlock()
		onConnect(CodeSuccess, true)

		char, err := discoverCharacteristic(&device, heartRateService, heartRateMeasurement)
		if err != nil {
			slog.Warn("[BLE] heart rate service unavailable", "address", address, "error", err)
			onNotify(CodeFailed)
			return
		}
		if err := char.EnableNotifications(r.handleHeartNotification); err != nil {
			slog.Warn("[BLE] enable notifications", "address", address, "error", err)
			onNotify(CodeFailed)
			return
		}

		r.mu.Lock()
		r.heartChar = &char
		r.mu.Unlock()
		onNotify(CodeSuccess)
	}()
	return nil
}

func (r *Radio) handleHeartNotification(buf []byte) {
	bpm, ok := parseHeartRateMeasurement(buf)
	if !ok {
		return
	}
	r.mu.Lock()
	fn := r.onHeart
	r.mu.Unlock()
	if fn != nil {
		fn(HeartData{Value: bpm, Status: "STATE_HEART_NORMAL"})
	}
}

// parseHeartRateMeasurement decodes the 0x2A37 payload: bit 0 of the flags
// byte selects an 8- or 16-bit little-endian value.
func parseHeartRateMeasurement(buf []byte) (int, bool) {
	if len(buf) < 2 {
		return 0, false
	}
	if buf[0]&0x01 == 0 {
		return int(buf[1]), true
	}
	if len(buf) < 3 {
		return 0, false
	}
	return int(buf[1]) | int(buf[2])<<8, true
}

func (r *Radio) Disconnect() error {
	r.mu.Lock()
	device := r.device
	r.state = StatusDisconnecting
	r.mu.Unlock()

	if device == nil {
		r.mu.Lock()
		r.state = StatusDisconnected
		r.mu.Unlock()
		return nil
	}
	err := device.Disconnect()

	r.mu.Lock()
	r.device = nil
	r.heartChar = nil
	r.onHeart = nil
	r.state = StatusDisconnected
	r.mu.Unlock()

	if err != nil {
		return fmt.Errorf("ble: disconnect: %w", err)
	}
	return nil
}

func (r *Radio) ConnectStatus(address string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if address == "" || address != r.address {
		return StatusUnknown
	}
	return r.state
}

func (r *Radio) CurrentAddress() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.device == nil {
		return ""
	}
	return r.address
}

func (r *Radio) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device != nil
}

func (r *Radio) ConfirmPassword(string, bool, func(PasswordData)) error {
	return ErrUnsupported
}

func (r *Radio) StartDetectHeart(onData func(HeartData)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.device == nil {
		return ErrNotConnected
	}
	if r.heartChar == nil {
		return ErrUnsupported
	}
	r.onHeart = onData
	return nil
}

func (r *Radio) StopDetectHeart() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onHeart = nil
	return nil
}

func (r *Radio) SetHeartWarning(int, int, bool, func(HeartWarningData)) error {
	return ErrUnsupported
}

func (r *Radio) ReadHeartWarning(func(HeartWarningData)) error {
	return ErrUnsupported
}

func (r *Radio) SupportsSpO2() bool { return false }

func (r *Radio) StartDetectSpO2(func(SpO2Data)) error { return ErrUnsupported }

func (r *Radio) StopDetectSpO2() error { return ErrUnsupported }

func (r *Radio) ReadBattery(onData func(BatteryData)) error {
	r.mu.Lock()
	device := r.device
	r.mu.Unlock()
	if device == nil {
		return ErrNotConnected
	}

	char, err := discoverCharacteristic(device, batteryService, batteryLevel)
	if err != nil {
		return fmt.Errorf("ble: battery characteristic: %w", err)
	}
	buf := make([]byte, 8)
	n, err := char.Read(buf)
	if err != nil && err != io.EOF {
		return fmt.Errorf("ble: read battery level: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("ble: empty battery level response")
	}

	go onData(batteryFromPercent(int(buf[0])))
	return nil
}

// batteryFromPercent maps a 0x2A19 percentage onto the 0-4 level scale.
func batteryFromPercent(percent int) BatteryData {
	level := percent / 25
	if level > 4 {
		level = 4
	}
	return BatteryData{
		Level:     level,
		Percent:   percent,
		Bat:       percent,
		IsLow:     percent <= 20,
		IsPercent: true,
	}
}

func discoverCharacteristic(dev *bluetooth.Device, srv, char bluetooth.UUID) (bluetooth.DeviceCharacteristic, error) {
	svcs, err := dev.DiscoverServices([]bluetooth.UUID{srv})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discover service %s: %w", srv, err)
	}
	if len(svcs) == 0 {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("service %s not found", srv)
	}
	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{char})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discover characteristic %s: %w", char, err)
	}
	if len(chars) == 0 {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic %s not found", char)
	}
	return chars[0], nil
}

// Compile-time check that Radio implements Operator.
var _ Operator = (*Radio)(nil)
