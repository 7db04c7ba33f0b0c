package manager

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/wearlink/internal/ble"
	"github.com/chaz8081/wearlink/internal/credentials"
	"github.com/chaz8081/wearlink/internal/events"
	"github.com/chaz8081/wearlink/internal/permission"
)

// mockOperator is a scriptable ble.Operator. Behaviour hooks default to
// immediate success; tests override the ones they care about.
type mockOperator struct {
	mu sync.Mutex

	powered bool
	spo2    bool

	scan        ble.ScanHandler
	scanStarts  int
	scanStops   int
	connects    int
	disconnects int
	passwords   int
	listeners   int
	unregisters int
	connected   string

	connectFn  func(attempt int, onConnect ble.ConnectCallback, onNotify ble.NotifyCallback) error
	passwordFn func(onData func(ble.PasswordData)) error
	batteryFn  func(onData func(ble.BatteryData)) error

	heart   func(ble.HeartData)
	spo2Fn  func(ble.SpO2Data)
	warning func(ble.HeartWarningData)
}

func newMockOperator() *mockOperator {
	return &mockOperator{powered: true, spo2: true}
}

func (m *mockOperator) IsBluetoothOpened() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.powered
}

func (m *mockOperator) OpenBluetooth() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.powered = true
	return nil
}

func (m *mockOperator) CloseBluetooth() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.powered = false
	return nil
}

func (m *mockOperator) StartScan(h ble.ScanHandler) error {
	m.mu.Lock()
	m.scan = h
	m.scanStarts++
	m.mu.Unlock()
	if h.OnStarted != nil {
		h.OnStarted()
	}
	return nil
}

func (m *mockOperator) StopScan() error {
	m.mu.Lock()
	h := m.scan
	m.scanStops++
	m.mu.Unlock()
	if h.OnStopped != nil {
		h.OnStopped()
	}
	return nil
}

// found delivers a sighting to the active scan handler.
func (m *mockOperator) found(name, address string, rssi int) {
	m.mu.Lock()
	h := m.scan
	m.mu.Unlock()
	h.OnFound(ble.ScanResult{Name: name, Address: address, RSSI: rssi})
}

func (m *mockOperator) RegisterConnectStatusListener(string, ble.StatusListener) func() {
	m.mu.Lock()
	m.listeners++
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.unregisters++
		m.mu.Unlock()
	}
}

func (m *mockOperator) Connect(address string, onConnect ble.ConnectCallback, onNotify ble.NotifyCallback) error {
	m.mu.Lock()
	attempt := m.connects
	m.connects++
	fn := m.connectFn
	m.mu.Unlock()

	if fn != nil {
		return fn(attempt, onConnect, onNotify)
	}
	m.mu.Lock()
	m.connected = address
	m.mu.Unlock()
	go func() {
		onConnect(ble.CodeSuccess, true)
		onNotify(ble.CodeSuccess)
	}()
	return nil
}

func (m *mockOperator) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	m.connected = ""
	return nil
}

func (m *mockOperator) ConnectStatus(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if address != "" && address == m.connected {
		return ble.StatusConnected
	}
	return ble.StatusDisconnected
}

func (m *mockOperator) CurrentAddress() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockOperator) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected != ""
}

func (m *mockOperator) ConfirmPassword(password string, use24H bool, onData func(ble.PasswordData)) error {
	m.mu.Lock()
	m.passwords++
	fn := m.passwordFn
	m.mu.Unlock()
	if fn != nil {
		return fn(onData)
	}
	go onData(ble.PasswordData{Status: ble.PasswordCheckAndTimeSuccess})
	return nil
}

func (m *mockOperator) StartDetectHeart(onData func(ble.HeartData)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heart = onData
	return nil
}

func (m *mockOperator) StopDetectHeart() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heart = nil
	return nil
}

func (m *mockOperator) SetHeartWarning(high, low int, open bool, onData func(ble.HeartWarningData)) error {
	go onData(ble.HeartWarningData{High: high, Low: low, Open: open, Status: "SETTING_SUCCESS"})
	return nil
}

func (m *mockOperator) ReadHeartWarning(onData func(ble.HeartWarningData)) error {
	m.mu.Lock()
	m.warning = onData
	m.mu.Unlock()
	go onData(ble.HeartWarningData{High: 120, Low: 50, Open: true, Status: "READ_SUCCESS"})
	return nil
}

func (m *mockOperator) SupportsSpO2() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spo2
}

func (m *mockOperator) StartDetectSpO2(onData func(ble.SpO2Data)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spo2Fn = onData
	return nil
}

func (m *mockOperator) StopDetectSpO2() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spo2Fn = nil
	return nil
}

func (m *mockOperator) ReadBattery(onData func(ble.BatteryData)) error {
	m.mu.Lock()
	fn := m.batteryFn
	m.mu.Unlock()
	if fn != nil {
		return fn(onData)
	}
	go onData(ble.BatteryData{Level: 3, Percent: 80, Bat: 80, State: 1, IsPercent: true})
	return nil
}

func (m *mockOperator) count(field *int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *field
}

var _ ble.Operator = (*mockOperator)(nil)

// allGranted is a permission host with everything granted.
func allGranted() *permission.Policy {
	return permission.NewPolicy([]string{"BLUETOOTH_SCAN", "BLUETOOTH_CONNECT", "ACCESS_FINE_LOCATION"}, nil, nil, "")
}

func newTestStore(t *testing.T) *credentials.Store {
	t.Helper()
	return credentials.NewStore(credentials.NewFileBackend(filepath.Join(t.TempDir(), "credentials.yaml")))
}

// testOptions returns options with delays short enough for unit tests.
func testOptions() Options {
	opts := DefaultOptions()
	opts.MinScanInterval = 0
	opts.OperationTimeout = time.Second
	opts.Retry = RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
	return opts
}

type testManager struct {
	*Bluetooth
	op    *mockOperator
	store *credentials.Store
	scan  *events.Stream
	got   chan any
}

func newTestManager(t *testing.T, opts Options) *testManager {
	t.Helper()
	op := newMockOperator()
	store := newTestStore(t)
	scan := events.NewStream(events.StreamScan, 64)
	got := make(chan any, 64)
	scan.Subscribe(func(p any) { got <- p })

	b := NewBluetooth(op, allGranted(), store, scan, opts)
	t.Cleanup(func() {
		b.Close()
		scan.Close()
	})
	return &testManager{Bluetooth: b, op: op, store: store, scan: scan, got: got}
}

// nextEvent waits for the next payload on the scan stream.
func (tm *testManager) nextEvent(t *testing.T) []Device {
	t.Helper()
	select {
	case p := <-tm.got:
		devices, ok := p.([]Device)
		if !ok {
			t.Fatalf("scan payload type = %T, want []Device", p)
		}
		return devices
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scan event")
		return nil
	}
}

// noEvent asserts that nothing arrives on the scan stream for a moment.
func (tm *testManager) noEvent(t *testing.T) {
	t.Helper()
	select {
	case p := <-tm.got:
		t.Fatalf("unexpected scan event: %v", p)
	case <-time.After(30 * time.Millisecond):
	}
}
