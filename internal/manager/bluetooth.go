// Package manager orchestrates wearable operations on top of a ble.Operator:
// permission gating, scan de-duplication, connect with retry and timeout,
// device binding, and the heart-rate, SpO2 and battery features.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chaz8081/wearlink/internal/ble"
	"github.com/chaz8081/wearlink/internal/credentials"
	"github.com/chaz8081/wearlink/internal/events"
	"github.com/chaz8081/wearlink/internal/permission"
)

// Messages returned by Connect.
const (
	MsgConnected           = "Connected to device"
	MsgNotificationEnabled = "Notification enabled"
)

// Bluetooth owns the device link: permissions, scanning, connect,
// disconnect and binding.
type Bluetooth struct {
	op    ble.Operator
	host  permission.Host
	store *credentials.Store
	scanS *events.Stream
	opts  Options

	scanLimiter *rate.Limiter

	lifetime context.Context
	shutdown context.CancelFunc

	mu          sync.Mutex
	discovered  *deviceSet
	scanSession uint64
	scanning    bool
	scanTimer   *time.Timer
	unregister  func()
	ops         context.Context
	cancelOps   context.CancelFunc
}

// NewBluetooth creates a manager. Scan results are emitted on scanStream.
func NewBluetooth(op ble.Operator, host permission.Host, store *credentials.Store, scanStream *events.Stream, opts Options) *Bluetooth {
	limit := rate.Inf
	if opts.MinScanInterval > 0 {
		limit = rate.Every(opts.MinScanInterval)
	}

	lifetime, shutdown := context.WithCancel(context.Background())
	ops, cancelOps := context.WithCancel(lifetime)

	return &Bluetooth{
		op:          op,
		host:        host,
		store:       store,
		scanS:       scanStream,
		opts:        opts,
		scanLimiter: rate.NewLimiter(limit, 1),
		lifetime:    lifetime,
		shutdown:    shutdown,
		discovered:  newDeviceSet(opts.RSSIDelta),
		ops:         ops,
		cancelOps:   cancelOps,
	}
}

// RequestPermissions checks the required permissions and prompts for any
// that are missing.
func (b *Bluetooth) RequestPermissions(ctx context.Context) (permission.Status, error) {
	status, err := permission.RequestStatus(ctx, b.host, permission.Required(b.opts.PlatformVersion))
	if err != nil {
		return status, fmt.Errorf("manager: request permissions: %w", err)
	}
	slog.Info("[BT] permission status", "status", status)
	return status, nil
}

// OpenAppSettings shows where the user can change permission grants.
func (b *Bluetooth) OpenAppSettings() error {
	if err := b.host.OpenSettings(); err != nil {
		return fmt.Errorf("manager: open settings: %w", err)
	}
	return nil
}

// IsBluetoothEnabled reports whether the local adapter is on.
func (b *Bluetooth) IsBluetoothEnabled() bool {
	return b.op.IsBluetoothOpened()
}

// ensurePermissions fails with PERMISSION_ERROR unless every required
// permission is granted, prompting when needed.
func (b *Bluetooth) ensurePermissions(ctx context.Context) error {
	status, err := b.RequestPermissions(ctx)
	if err != nil {
		return &Error{Code: CodePermission, Message: permission.Message(permission.Unknown), Err: err}
	}
	if status != permission.Granted {
		slog.Warn("[BT] permission not granted", "status", status)
		return &Error{Code: CodePermission, Message: permission.Message(status), Details: string(status)}
	}
	return nil
}

// ensureReady gates an operation on permissions and a powered adapter.
func (b *Bluetooth) ensureReady(ctx context.Context) error {
	if err := b.ensurePermissions(ctx); err != nil {
		return err
	}
	if !b.op.IsBluetoothOpened() {
		return NewError(CodeBluetoothDisabled, "Bluetooth is not enabled")
	}
	return nil
}

// OpenBluetooth powers the adapter on.
func (b *Bluetooth) OpenBluetooth(ctx context.Context) error {
	if err := b.ensurePermissions(ctx); err != nil {
		return err
	}
	return operatorCall("open bluetooth", b.op.OpenBluetooth)
}

// CloseBluetooth powers the adapter off.
func (b *Bluetooth) CloseBluetooth(ctx context.Context) error {
	if err := b.ensureReady(ctx); err != nil {
		return err
	}
	return operatorCall("close bluetooth", b.op.CloseBluetooth)
}

// Scan starts discovery. Sightings are de-duplicated by address and the
// full device list is emitted on the scan stream whenever it changes and
// when the scan stops. The scan stops on its own after ScanTimeout.
func (b *Bluetooth) Scan(ctx context.Context) error {
	if err := b.ensureReady(ctx); err != nil {
		return err
	}
	if !b.opts.ScanEnabled || b.opts.PowerSave {
		slog.Warn("[BT] scanning disabled or power save mode on")
		return NewError(CodeScanUnavailable, "Bluetooth scanning is disabled or the device is in power save mode")
	}
	if !b.scanLimiter.Allow() {
		slog.Warn("[BT] scanning too frequently")
		return NewError(CodeScanThrottled, "Scanning too frequently, please wait")
	}

	b.mu.Lock()
	wasScanning := b.scanning
	b.stopScanTimerLocked()
	b.scanSession++
	session := b.scanSession
	b.discovered.reset()
	b.scanning = true
	b.mu.Unlock()

	if wasScanning {
		if err := operatorCall("stop scan", b.op.StopScan); err != nil {
			slog.Warn("[BT] stopping previous scan", "error", err)
		}
	}

	err := operatorCall("scan", func() error {
		return b.op.StartScan(b.scanHandler(session))
	})
	if err != nil {
		b.mu.Lock()
		b.scanning = false
		b.mu.Unlock()
		return err
	}

	b.mu.Lock()
	if b.scanSession == session {
		b.scanTimer = time.AfterFunc(b.opts.ScanTimeout, func() {
			slog.Info("[BT] scan timeout reached", "after", b.opts.ScanTimeout)
			b.stopScan(session)
		})
	}
	b.mu.Unlock()
	return nil
}

func (b *Bluetooth) scanHandler(session uint64) ble.ScanHandler {
	return ble.ScanHandler{
		OnStarted: func() {
			slog.Info("[BT] scan started")
		},
		OnFound: func(r ble.ScanResult) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if session != b.scanSession || !b.scanning {
				return
			}
			if b.discovered.observe(r) {
				b.scanS.Emit(b.discovered.snapshot())
			}
		},
		OnStopped: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if session != b.scanSession {
				return
			}
			slog.Info("[BT] scan stopped", "devices", b.discovered.len())
			b.scanS.Emit(b.discovered.snapshot())
		},
		OnCanceled: func() {
			slog.Info("[BT] scan canceled")
			b.mu.Lock()
			if session == b.scanSession {
				b.scanning = false
				b.stopScanTimerLocked()
			}
			b.mu.Unlock()
		},
	}
}

// StopScan ends discovery and clears the discovered devices.
func (b *Bluetooth) StopScan(ctx context.Context) error {
	if err := b.ensureReady(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	session := b.scanSession
	b.mu.Unlock()
	return b.stopScan(session)
}

func (b *Bluetooth) stopScan(session uint64) error {
	b.mu.Lock()
	if session != b.scanSession {
		b.mu.Unlock()
		return nil
	}
	b.stopScanTimerLocked()
	b.scanning = false
	b.mu.Unlock()

	// The operator reports OnStopped, which emits the final list, before
	// the set is cleared.
	err := operatorCall("stop scan", b.op.StopScan)

	b.mu.Lock()
	if session == b.scanSession {
		b.discovered.reset()
	}
	b.mu.Unlock()
	return err
}

func (b *Bluetooth) stopScanTimerLocked() {
	if b.scanTimer != nil {
		b.scanTimer.Stop()
		b.scanTimer = nil
	}
}

// operationContext bounds an operation by OperationTimeout and ties it to
// the current link: Disconnect and Close cancel it.
func (b *Bluetooth) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	b.mu.Lock()
	parent := b.ops
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, b.opts.OperationTimeout)
	stop := context.AfterFunc(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// contextError converts the end of an operation context into an *Error.
func (b *Bluetooth) contextError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{
			Code:    CodeOperationTimeout,
			Message: fmt.Sprintf("Operation timed out after %dms", b.opts.OperationTimeout.Milliseconds()),
			Err:     err,
		}
	}
	return &Error{Code: CodeBluetoothError, Message: "Operation cancelled", Err: err}
}

// Connect links to the device at address and returns a success message.
// Each attempt races the connect and notify callbacks for one reply; the
// first to fire decides the attempt. Failed attempts are retried with
// exponential backoff within OperationTimeout.
func (b *Bluetooth) Connect(ctx context.Context, address string) (string, error) {
	if address == "" {
		return "", NewError(CodeInvalidArgument, "Missing required argument: address")
	}
	if err := b.ensureReady(ctx); err != nil {
		return "", err
	}

	b.mu.Lock()
	if b.unregister != nil {
		b.unregister()
	}
	b.unregister = b.op.RegisterConnectStatusListener(address, b.onConnectStatus)
	b.mu.Unlock()

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()

	var msg string
	err := retryWithBackoff(opCtx, b.opts.Retry, func(attempt int) error {
		var err error
		msg, err = b.connectOnce(opCtx, address, attempt)
		return err
	}, retryableConnectError, func(attempt int, delay time.Duration, err error) {
		slog.Warn("[BT] connect attempt failed, retrying",
			"address", address, "attempt", attempt+1, "code", CodeOf(err), "delay", delay, "error", err)
	})
	if err != nil {
		if opCtx.Err() != nil {
			return "", b.contextError(opCtx, err)
		}
		return "", err
	}

	if err := b.store.SaveAddress(address); err != nil {
		slog.Warn("[BT] failed to save device address", "address", address, "error", err)
	}
	slog.Info("[BT] connected", "address", address, "result", msg)
	return msg, nil
}

func (b *Bluetooth) connectOnce(ctx context.Context, address string, attempt int) (string, error) {
	r := newReply[string]()

	onConnect := func(code int, success bool) {
		var err error
		msg := MsgConnected
		if code != ble.CodeSuccess || !success {
			slog.Error("[BT] failed to connect to device", "address", address, "code", code)
			msg = ""
			err = &Error{Code: CodeConnectFailed, Message: "Failed to connect to device", Details: code}
		}
		if !r.resolve(msg, err) {
			slog.Debug("[BT] reply already submitted, ignoring connect callback", "code", code)
		}
	}
	onNotify := func(code int) {
		var err error
		msg := MsgNotificationEnabled
		if code != ble.CodeSuccess {
			slog.Error("[BT] failed to enable notification", "address", address, "code", code)
			msg = ""
			err = &Error{Code: CodeNotifyFailed, Message: "Failed to enable notification", Details: code}
		}
		if !r.resolve(msg, err) {
			slog.Debug("[BT] reply already submitted, ignoring notify callback", "code", code)
		}
	}

	slog.Info("[BT] connecting", "address", address, "attempt", attempt+1)
	if err := operatorCall("connect", func() error {
		return b.op.Connect(address, onConnect, onNotify)
	}); err != nil {
		return "", err
	}
	return r.wait(ctx)
}

// retryableConnectError reports whether a failed attempt is worth another
// try. Context errors are final; the operation deadline covers all attempts.
func retryableConnectError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == CodeConnectFailed || e.Code == CodeBluetoothError
}

func (b *Bluetooth) onConnectStatus(address string, connected bool) {
	if connected {
		slog.Info("[BT] connected to device", "address", address)
		return
	}
	slog.Info("[BT] disconnected from device", "address", address)
}

// Disconnect drops the link and releases everything tied to it: the
// status listener, the scan timer, in-flight connect and bind operations,
// and the discovered devices.
func (b *Bluetooth) Disconnect(ctx context.Context) error {
	if err := b.ensureReady(ctx); err != nil {
		return err
	}

	if err := operatorCall("disconnect", b.op.Disconnect); err != nil {
		slog.Error("[BT] disconnect failed", "error", err)
		return err
	}
	if wasScanning := b.cleanup(); wasScanning {
		if err := operatorCall("stop scan", b.op.StopScan); err != nil {
			slog.Warn("[BT] stopping scan on disconnect", "error", err)
		}
	}

	if b.opts.ClearOnDisconnect {
		if err := b.store.Clear(); err != nil {
			slog.Warn("[BT] failed to clear credentials", "error", err)
		}
	}
	slog.Info("[BT] disconnected")
	return nil
}

// cleanup resets link state and reports whether a scan was running.
func (b *Bluetooth) cleanup() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasScanning := b.scanning
	if b.unregister != nil {
		b.unregister()
		b.unregister = nil
	}
	b.stopScanTimerLocked()
	b.scanning = false
	b.scanSession++
	b.discovered.reset()

	b.cancelOps()
	b.ops, b.cancelOps = context.WithCancel(b.lifetime)
	return wasScanning
}

// BindDevice confirms password with the linked device and returns the
// binding status name. Credentials are saved only when the device reports
// CHECK_AND_TIME_SUCCESS.
func (b *Bluetooth) BindDevice(ctx context.Context, password string, use24H bool) (string, error) {
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()

	r := newReply[ble.PasswordStatus]()
	onData := func(d ble.PasswordData) {
		won := r.resolveFunc(func() (ble.PasswordStatus, error) {
			if d.Status == ble.PasswordCheckAndTimeSuccess {
				if err := b.store.SaveCredentials(password, use24H); err != nil {
					slog.Error("[BT] failed to save credentials", "error", err)
				}
			}
			return d.Status, nil
		})
		if !won {
			slog.Warn("[BT] reply already submitted for password data", "status", d.Status)
		}
	}

	if err := operatorCall("bind device", func() error {
		return b.op.ConfirmPassword(password, use24H, onData)
	}); err != nil {
		return "", err
	}

	status, err := r.wait(opCtx)
	if err != nil {
		return "", b.contextError(opCtx, err)
	}
	if status == "" {
		return "", NewError(CodeUnknownStatus, "Binding status is null")
	}
	slog.Info("[BT] bind result", "status", status)
	return string(status), nil
}

// Address returns the linked device's address, falling back to the last
// saved one.
func (b *Bluetooth) Address() string {
	if addr := b.op.CurrentAddress(); addr != "" {
		return addr
	}
	addr, _ := b.store.Address()
	return addr
}

// CurrentStatus returns the operator's connection status for Address.
func (b *Bluetooth) CurrentStatus() int {
	return b.op.ConnectStatus(b.Address())
}

// IsDeviceConnected reports whether a device is linked.
func (b *Bluetooth) IsDeviceConnected() bool {
	return b.op.IsConnected()
}

// Close stops a running scan and cancels all pending work. The manager
// must not be used afterwards.
func (b *Bluetooth) Close() {
	if wasScanning := b.cleanup(); wasScanning {
		if err := operatorCall("stop scan", b.op.StopScan); err != nil {
			slog.Warn("[BT] stopping scan on close", "error", err)
		}
	}
	b.shutdown()
}
