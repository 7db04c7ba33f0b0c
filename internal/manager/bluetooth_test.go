package manager

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chaz8081/wearlink/internal/ble"
	"github.com/chaz8081/wearlink/internal/events"
	"github.com/chaz8081/wearlink/internal/permission"
)

func requireCode(t *testing.T, err error, want Code) *Error {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("error = %v, want *Error with code %s", err, want)
	}
	if e.Code != want {
		t.Fatalf("error code = %s, want %s (%v)", e.Code, want, err)
	}
	return e
}

func TestScanDeltaScenario(t *testing.T) {
	tm := newTestManager(t, testOptions())
	if err := tm.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	tm.op.found("Watch", "AA:AA:AA:AA:AA:AA", -50)
	got := tm.nextEvent(t)
	if len(got) != 1 || got[0].RSSI != -50 {
		t.Fatalf("first event = %+v, want A at -50", got)
	}

	tm.op.found("Watch", "AA:AA:AA:AA:AA:AA", -48)
	tm.noEvent(t)

	tm.op.found("Watch", "AA:AA:AA:AA:AA:AA", -65)
	got = tm.nextEvent(t)
	if len(got) != 1 || got[0].RSSI != -65 {
		t.Fatalf("second event = %+v, want A at -65", got)
	}
}

func TestScanDeltaBoundary(t *testing.T) {
	tm := newTestManager(t, testOptions())
	if err := tm.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	tm.op.found("", "AA:AA:AA:AA:AA:AA", -50)
	tm.nextEvent(t)

	// 9 below the delta, measured from the last announced value.
	tm.op.found("", "AA:AA:AA:AA:AA:AA", -59)
	tm.noEvent(t)
	tm.op.found("", "AA:AA:AA:AA:AA:AA", -41)
	tm.noEvent(t)

	// Exactly the delta re-announces.
	tm.op.found("", "AA:AA:AA:AA:AA:AA", -60)
	got := tm.nextEvent(t)
	if got[0].RSSI != -60 {
		t.Errorf("RSSI = %d, want -60", got[0].RSSI)
	}
}

func TestScanListHasNoDuplicates(t *testing.T) {
	tm := newTestManager(t, testOptions())
	if err := tm.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	sightings := []struct {
		addr string
		rssi int
	}{
		{"A", -40}, {"B", -70}, {"A", -80}, {"C", -60}, {"B", -50}, {"A", -40},
	}
	for _, s := range sightings {
		tm.op.found("", s.addr, s.rssi)
	}

	var last []Device
	for {
		select {
		case p := <-tm.got:
			devices := p.([]Device)
			seen := make(map[string]bool)
			for _, d := range devices {
				if seen[d.Address] {
					t.Fatalf("duplicate address %s in %+v", d.Address, devices)
				}
				seen[d.Address] = true
			}
			last = devices
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}

	want := []string{"A", "B", "C"}
	if len(last) != len(want) {
		t.Fatalf("final list = %+v, want %v", last, want)
	}
	for i, d := range last {
		if d.Address != want[i] {
			t.Errorf("list[%d] = %s, want %s (first-seen order)", i, d.Address, want[i])
		}
	}
}

func TestScanGates(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Options, *mockOperator)
		want  Code
	}{
		{"disabled", func(o *Options, _ *mockOperator) { o.ScanEnabled = false }, CodeScanUnavailable},
		{"power save", func(o *Options, _ *mockOperator) { o.PowerSave = true }, CodeScanUnavailable},
		{"adapter off", func(_ *Options, m *mockOperator) { m.powered = false }, CodeBluetoothDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			op := newMockOperator()
			tt.setup(&opts, op)
			b := NewBluetooth(op, allGranted(), newTestStore(t), events.NewStream(events.StreamScan, 8), opts)
			defer b.Close()

			requireCode(t, b.Scan(context.Background()), tt.want)
			if op.count(&op.scanStarts) != 0 {
				t.Error("operator scan started despite gate")
			}
		})
	}
}

func TestScanPermissionDenied(t *testing.T) {
	op := newMockOperator()
	host := permission.NewPolicy([]string{"BLUETOOTH_SCAN"}, nil, nil, "")
	b := NewBluetooth(op, host, newTestStore(t), events.NewStream(events.StreamScan, 8), testOptions())
	defer b.Close()

	e := requireCode(t, b.Scan(context.Background()), CodePermission)
	if e.Message != "Bluetooth permissions denied" {
		t.Errorf("message = %q", e.Message)
	}
	if e.Details != "DENIED" {
		t.Errorf("details = %v, want DENIED", e.Details)
	}
}

func TestScanThrottled(t *testing.T) {
	opts := testOptions()
	opts.MinScanInterval = time.Hour
	tm := newTestManager(t, opts)

	if err := tm.Scan(context.Background()); err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}
	requireCode(t, tm.Scan(context.Background()), CodeScanThrottled)
	if got := tm.op.count(&tm.op.scanStarts); got != 1 {
		t.Errorf("operator scans = %d, want 1", got)
	}
}

func TestScanAutoStops(t *testing.T) {
	opts := testOptions()
	opts.ScanTimeout = 20 * time.Millisecond
	tm := newTestManager(t, opts)

	if err := tm.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	tm.op.found("Watch", "A", -50)
	tm.nextEvent(t)

	// The final list is emitted when the scan stops.
	got := tm.nextEvent(t)
	if len(got) != 1 || got[0].Address != "A" {
		t.Errorf("stop event = %+v, want [A]", got)
	}
	if stops := tm.op.count(&tm.op.scanStops); stops != 1 {
		t.Errorf("operator stops = %d, want 1", stops)
	}
}

func TestStopScanClearsDevices(t *testing.T) {
	tm := newTestManager(t, testOptions())
	if err := tm.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	tm.op.found("Watch", "A", -50)
	tm.nextEvent(t)

	if err := tm.StopScan(context.Background()); err != nil {
		t.Fatalf("StopScan() error = %v", err)
	}
	if got := tm.nextEvent(t); len(got) != 1 {
		t.Errorf("stop event = %+v, want one device", got)
	}

	// Late sightings from the stopped scan are ignored.
	tm.op.found("Watch", "B", -50)
	tm.noEvent(t)

	tm.mu.Lock()
	n := tm.discovered.len()
	tm.mu.Unlock()
	if n != 0 {
		t.Errorf("discovered = %d after StopScan, want 0", n)
	}
}

func TestConnectResolvesOnce(t *testing.T) {
	tm := newTestManager(t, testOptions())

	msg, err := tm.Connect(context.Background(), "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if msg != MsgConnected {
		t.Errorf("Connect() = %q, want %q", msg, MsgConnected)
	}
	if got := tm.op.count(&tm.op.connects); got != 1 {
		t.Errorf("operator connects = %d, want 1", got)
	}
	if got := tm.op.count(&tm.op.listeners); got != 1 {
		t.Errorf("status listeners = %d, want 1", got)
	}
	if addr, ok := tm.store.Address(); !ok || addr != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("stored address = %q, %v", addr, ok)
	}
}

func TestConnectNotifyWinsWhenFirst(t *testing.T) {
	tm := newTestManager(t, testOptions())
	tm.op.connectFn = func(_ int, onConnect ble.ConnectCallback, onNotify ble.NotifyCallback) error {
		go func() {
			onNotify(ble.CodeSuccess)
			onConnect(ble.CodeFailed, false)
		}()
		return nil
	}

	msg, err := tm.Connect(context.Background(), "AA")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if msg != MsgNotificationEnabled {
		t.Errorf("Connect() = %q, want %q", msg, MsgNotificationEnabled)
	}
}

func TestConnectRetriesConnectFailed(t *testing.T) {
	tm := newTestManager(t, testOptions())
	tm.op.connectFn = func(_ int, onConnect ble.ConnectCallback, _ ble.NotifyCallback) error {
		go onConnect(ble.CodeFailed, false)
		return nil
	}

	_, err := tm.Connect(context.Background(), "AA")
	e := requireCode(t, err, CodeConnectFailed)
	if e.Details != ble.CodeFailed {
		t.Errorf("details = %v, want %d", e.Details, ble.CodeFailed)
	}
	if got := tm.op.count(&tm.op.connects); got != 3 {
		t.Errorf("operator connects = %d, want 3", got)
	}
	if _, ok := tm.store.Address(); ok {
		t.Error("address saved after failed connect")
	}
}

func TestConnectSucceedsAfterRetry(t *testing.T) {
	tm := newTestManager(t, testOptions())
	tm.op.connectFn = func(attempt int, onConnect ble.ConnectCallback, _ ble.NotifyCallback) error {
		if attempt < 2 {
			go onConnect(ble.CodeTimeout, false)
		} else {
			go onConnect(ble.CodeSuccess, true)
		}
		return nil
	}

	msg, err := tm.Connect(context.Background(), "AA")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if msg != MsgConnected {
		t.Errorf("Connect() = %q", msg)
	}
	if got := tm.op.count(&tm.op.connects); got != 3 {
		t.Errorf("operator connects = %d, want 3", got)
	}
}

func TestConnectOperatorError(t *testing.T) {
	tm := newTestManager(t, testOptions())
	cause := errors.New("gatt 133")
	tm.op.connectFn = func(int, ble.ConnectCallback, ble.NotifyCallback) error {
		return errors.Join(errors.New("ignored"), cause)
	}

	_, err := tm.Connect(context.Background(), "AA")
	requireCode(t, err, CodeBluetoothError)
	if got := tm.op.count(&tm.op.connects); got != 3 {
		t.Errorf("operator connects = %d, want 3", got)
	}
}

func TestConnectOperatorPanic(t *testing.T) {
	opts := testOptions()
	opts.Retry.MaxAttempts = 1
	tm := newTestManager(t, opts)
	tm.op.connectFn = func(int, ble.ConnectCallback, ble.NotifyCallback) error {
		panic(fmtWrap("invoke", errors.New("dead object")))
	}

	_, err := tm.Connect(context.Background(), "AA")
	e := requireCode(t, err, CodeBluetoothError)
	if !strings.HasSuffix(e.Message, "dead object") {
		t.Errorf("message = %q, want innermost cause", e.Message)
	}
}

func TestConnectNotifyFailedNotRetried(t *testing.T) {
	tm := newTestManager(t, testOptions())
	tm.op.connectFn = func(_ int, _ ble.ConnectCallback, onNotify ble.NotifyCallback) error {
		go onNotify(ble.CodeFailed)
		return nil
	}

	_, err := tm.Connect(context.Background(), "AA")
	requireCode(t, err, CodeNotifyFailed)
	if got := tm.op.count(&tm.op.connects); got != 1 {
		t.Errorf("operator connects = %d, want 1", got)
	}
}

func TestConnectTimeout(t *testing.T) {
	opts := testOptions()
	opts.OperationTimeout = 40 * time.Millisecond
	tm := newTestManager(t, opts)
	tm.op.connectFn = func(int, ble.ConnectCallback, ble.NotifyCallback) error { return nil }

	start := time.Now()
	_, err := tm.Connect(context.Background(), "AA")
	e := requireCode(t, err, CodeOperationTimeout)
	if e.Message != "Operation timed out after 40ms" {
		t.Errorf("message = %q", e.Message)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Connect() took %v, want about 40ms", elapsed)
	}
}

func TestConnectRequiresAddress(t *testing.T) {
	tm := newTestManager(t, testOptions())
	_, err := tm.Connect(context.Background(), "")
	requireCode(t, err, CodeInvalidArgument)
	if got := tm.op.count(&tm.op.connects); got != 0 {
		t.Errorf("operator connects = %d, want 0", got)
	}
}

func TestDisconnectCancelsPendingConnect(t *testing.T) {
	opts := testOptions()
	opts.OperationTimeout = 10 * time.Second
	tm := newTestManager(t, opts)
	started := make(chan struct{})
	tm.op.connectFn = func(int, ble.ConnectCallback, ble.NotifyCallback) error {
		close(started)
		return nil
	}

	errc := make(chan error, 1)
	go func() {
		_, err := tm.Connect(context.Background(), "AA")
		errc <- err
	}()
	<-started

	if err := tm.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	select {
	case err := <-errc:
		e := requireCode(t, err, CodeBluetoothError)
		if e.Message != "Operation cancelled" {
			t.Errorf("message = %q", e.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("Connect() not cancelled by Disconnect()")
	}
	if got := tm.op.count(&tm.op.unregisters); got != 1 {
		t.Errorf("status listener unregistered %d times, want 1", got)
	}

	// The manager stays usable after cleanup.
	tm.op.connectFn = nil
	if _, err := tm.Connect(context.Background(), "AA"); err != nil {
		t.Errorf("Connect() after Disconnect() error = %v", err)
	}
}

func TestDisconnectStopsScan(t *testing.T) {
	tm := newTestManager(t, testOptions())
	if err := tm.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if err := tm.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if got := tm.op.count(&tm.op.scanStops); got != 1 {
		t.Errorf("operator stops = %d, want 1", got)
	}
}

func TestCloseStopsScan(t *testing.T) {
	tm := newTestManager(t, testOptions())
	if err := tm.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	tm.Close()
	if got := tm.op.count(&tm.op.scanStops); got != 1 {
		t.Errorf("operator stops = %d, want 1", got)
	}

	// A second Close has no scan left to stop.
	tm.Close()
	if got := tm.op.count(&tm.op.scanStops); got != 1 {
		t.Errorf("operator stops after second Close = %d, want 1", got)
	}
}

func TestCloseWithoutScan(t *testing.T) {
	tm := newTestManager(t, testOptions())
	tm.Close()
	if got := tm.op.count(&tm.op.scanStops); got != 0 {
		t.Errorf("operator stops = %d, want 0", got)
	}
}

func TestDisconnectCredentials(t *testing.T) {
	tests := []struct {
		name      string
		clear     bool
		wantSaved bool
	}{
		{"kept by default", false, true},
		{"cleared when configured", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.ClearOnDisconnect = tt.clear
			tm := newTestManager(t, opts)

			if _, err := tm.BindDevice(context.Background(), "0000", true); err != nil {
				t.Fatalf("BindDevice() error = %v", err)
			}
			if err := tm.Disconnect(context.Background()); err != nil {
				t.Fatalf("Disconnect() error = %v", err)
			}
			if _, ok := tm.store.Password(); ok != tt.wantSaved {
				t.Errorf("password saved = %v, want %v", ok, tt.wantSaved)
			}
		})
	}
}

func TestBindPersistsOnlyOnCheckAndTimeSuccess(t *testing.T) {
	statuses := []ble.PasswordStatus{
		ble.PasswordUnknown,
		ble.PasswordCheckFail,
		ble.PasswordCheckSuccess,
		ble.PasswordSettingFail,
		ble.PasswordSettingSuccess,
		ble.PasswordReadFail,
		ble.PasswordReadSuccess,
		ble.PasswordCheckAndTimeSuccess,
	}
	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			tm := newTestManager(t, testOptions())
			tm.op.passwordFn = func(onData func(ble.PasswordData)) error {
				go onData(ble.PasswordData{Status: status})
				return nil
			}

			got, err := tm.BindDevice(context.Background(), "1234", false)
			if err != nil {
				t.Fatalf("BindDevice() error = %v", err)
			}
			if got != string(status) {
				t.Errorf("BindDevice() = %q, want %q", got, status)
			}

			password, saved := tm.store.Password()
			wantSaved := status == ble.PasswordCheckAndTimeSuccess
			if saved != wantSaved {
				t.Fatalf("credentials saved = %v, want %v", saved, wantSaved)
			}
			if saved {
				if password != "1234" || tm.store.Use24Hour() {
					t.Errorf("saved record = %q / 24h=%v, want 1234 / false", password, tm.store.Use24Hour())
				}
			}
		})
	}
}

func TestBindFirstCallbackWins(t *testing.T) {
	tm := newTestManager(t, testOptions())
	tm.op.passwordFn = func(onData func(ble.PasswordData)) error {
		go func() {
			onData(ble.PasswordData{Status: ble.PasswordCheckFail})
			onData(ble.PasswordData{Status: ble.PasswordCheckAndTimeSuccess})
		}()
		return nil
	}

	got, err := tm.BindDevice(context.Background(), "1234", true)
	if err != nil {
		t.Fatalf("BindDevice() error = %v", err)
	}
	if got != string(ble.PasswordCheckFail) {
		t.Errorf("BindDevice() = %q, want CHECK_FAIL", got)
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := tm.store.Password(); ok {
		t.Error("late CHECK_AND_TIME_SUCCESS saved credentials")
	}
}

func TestBindNullStatus(t *testing.T) {
	tm := newTestManager(t, testOptions())
	tm.op.passwordFn = func(onData func(ble.PasswordData)) error {
		go onData(ble.PasswordData{})
		return nil
	}

	_, err := tm.BindDevice(context.Background(), "0000", true)
	requireCode(t, err, CodeUnknownStatus)
	if _, ok := tm.store.Password(); ok {
		t.Error("null status saved credentials")
	}
}

func TestBindTimeout(t *testing.T) {
	opts := testOptions()
	opts.OperationTimeout = 30 * time.Millisecond
	tm := newTestManager(t, opts)
	tm.op.passwordFn = func(func(ble.PasswordData)) error { return nil }

	_, err := tm.BindDevice(context.Background(), "0000", true)
	requireCode(t, err, CodeOperationTimeout)
}

func TestBindUnsupported(t *testing.T) {
	tm := newTestManager(t, testOptions())
	tm.op.passwordFn = func(func(ble.PasswordData)) error { return ble.ErrUnsupported }

	_, err := tm.BindDevice(context.Background(), "0000", true)
	requireCode(t, err, CodeUnsupported)
}

func TestAddressAndStatus(t *testing.T) {
	tm := newTestManager(t, testOptions())
	if got := tm.Address(); got != "" {
		t.Errorf("Address() = %q before any connect", got)
	}
	if tm.IsDeviceConnected() {
		t.Error("IsDeviceConnected() = true before connect")
	}

	if _, err := tm.Connect(context.Background(), "AA"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := tm.Address(); got != "AA" {
		t.Errorf("Address() = %q, want AA", got)
	}
	if got := tm.CurrentStatus(); got != ble.StatusConnected {
		t.Errorf("CurrentStatus() = %d, want %d", got, ble.StatusConnected)
	}
	if !tm.IsDeviceConnected() {
		t.Error("IsDeviceConnected() = false after connect")
	}

	if err := tm.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	// Falls back to the saved address.
	if got := tm.Address(); got != "AA" {
		t.Errorf("Address() after disconnect = %q, want AA", got)
	}
	if got := tm.CurrentStatus(); got != ble.StatusDisconnected {
		t.Errorf("CurrentStatus() after disconnect = %d", got)
	}
}

func TestRequestPermissions(t *testing.T) {
	op := newMockOperator()
	host := permission.NewPolicy(nil, nil, []string{"BLUETOOTH_SCAN"}, "")
	b := NewBluetooth(op, host, newTestStore(t), events.NewStream(events.StreamScan, 8), testOptions())
	defer b.Close()

	status, err := b.RequestPermissions(context.Background())
	if err != nil {
		t.Fatalf("RequestPermissions() error = %v", err)
	}
	if status != permission.PermanentlyDenied {
		t.Errorf("status = %s, want PERMANENTLY_DENIED", status)
	}

	granted := NewBluetooth(op, allGranted(), newTestStore(t), events.NewStream(events.StreamScan, 8), testOptions())
	defer granted.Close()
	if status, _ := granted.RequestPermissions(context.Background()); status != permission.Granted {
		t.Errorf("status after grant = %s, want GRANTED", status)
	}
}

func TestOpenCloseBluetooth(t *testing.T) {
	tm := newTestManager(t, testOptions())
	if err := tm.CloseBluetooth(context.Background()); err != nil {
		t.Fatalf("CloseBluetooth() error = %v", err)
	}
	if tm.IsBluetoothEnabled() {
		t.Error("IsBluetoothEnabled() = true after close")
	}
	// Opening works with the adapter off.
	if err := tm.OpenBluetooth(context.Background()); err != nil {
		t.Fatalf("OpenBluetooth() error = %v", err)
	}
	if !tm.IsBluetoothEnabled() {
		t.Error("IsBluetoothEnabled() = false after open")
	}
}
