// Package ble defines the device operator that performs all radio work for
// a wearable (scan, connect, binding, detection routines) and provides its
// implementations: Radio over tinygo-org/bluetooth and Sim for runs without
// hardware.
package ble

import "errors"

// ErrUnsupported is returned for operations the operator cannot perform on
// the connected device.
var ErrUnsupported = errors.New("ble: operation not supported by this device")

// ErrNotConnected is returned for operations that need a connected device.
var ErrNotConnected = errors.New("ble: no device connected")

// Request result codes reported through connect and notify callbacks.
const (
	CodeSuccess = 0
	CodeFailed  = -1
	CodeTimeout = -7
)

// Connection states reported by ConnectStatus.
const (
	StatusUnknown       = -1
	StatusDisconnected  = 0
	StatusConnecting    = 1
	StatusConnected     = 2
	StatusDisconnecting = 3
)

// ScanResult is one sighting of an advertising device.
type ScanResult struct {
	Name    string
	Address string
	RSSI    int
}

// ScanHandler receives scan lifecycle callbacks. Nil fields are skipped.
type ScanHandler struct {
	OnStarted  func()
	OnFound    func(ScanResult)
	OnStopped  func()
	OnCanceled func()
}

// ConnectCallback reports the outcome of link establishment.
type ConnectCallback func(code int, success bool)

// NotifyCallback reports the outcome of enabling device notifications.
type NotifyCallback func(code int)

// StatusListener is told when the link to address goes up or down.
type StatusListener func(address string, connected bool)

// PasswordStatus is the result of a password confirmation.
type PasswordStatus string

const (
	PasswordUnknown             PasswordStatus = "UNKNOWN"
	PasswordCheckFail           PasswordStatus = "CHECK_FAIL"
	PasswordCheckSuccess        PasswordStatus = "CHECK_SUCCESS"
	PasswordSettingFail         PasswordStatus = "SETTING_FAIL"
	PasswordSettingSuccess      PasswordStatus = "SETTING_SUCCESS"
	PasswordReadFail            PasswordStatus = "READ_FAIL"
	PasswordReadSuccess         PasswordStatus = "READ_SUCCESS"
	PasswordCheckAndTimeSuccess PasswordStatus = "CHECK_AND_TIME_SUCCESS"
)

// PasswordData is delivered after ConfirmPassword.
type PasswordData struct {
	Status       PasswordStatus
	DeviceNumber int
	Version      string
}

// HeartData is one heart-rate sample.
type HeartData struct {
	Value  int
	Status string
}

// HeartWarningData describes the heart-rate alarm configured on the device.
type HeartWarningData struct {
	High   int
	Low    int
	Open   bool
	Status string
}

// SpO2Data is one blood-oxygen sample.
type SpO2Data struct {
	State            string
	DeviceState      string
	Value            int
	Checking         bool
	CheckingProgress int
	Rate             int
}

// BatteryData is the battery report of the device.
type BatteryData struct {
	Level      int
	Percent    int
	PowerModel int
	State      int
	Bat        int
	IsLow      bool
	IsPercent  bool
}

// Operator performs device operations. Callbacks may arrive on any goroutine
// and may fire more than once; callers guard their own state.
type Operator interface {
	// IsBluetoothOpened reports whether the local adapter is powered.
	IsBluetoothOpened() bool
	// OpenBluetooth powers the local adapter on.
	OpenBluetooth() error
	// CloseBluetooth powers the local adapter off.
	CloseBluetooth() error

	// StartScan begins discovery; h receives the sightings.
	StartScan(h ScanHandler) error
	// StopScan ends discovery started by StartScan.
	StopScan() error

	// RegisterConnectStatusListener subscribes to link changes for address.
	// The returned function unregisters the listener.
	RegisterConnectStatusListener(address string, l StatusListener) (unregister func())
	// Connect links to address. onConnect reports link establishment and
	// onNotify reports enabling notifications afterwards.
	Connect(address string, onConnect ConnectCallback, onNotify NotifyCallback) error
	// Disconnect drops the current link.
	Disconnect() error
	// ConnectStatus returns one of the Status* constants for address.
	ConnectStatus(address string) int
	// CurrentAddress returns the address of the linked device, or "".
	CurrentAddress() string
	// IsConnected reports whether a device is linked.
	IsConnected() bool

	// ConfirmPassword binds to the linked device with password.
	ConfirmPassword(password string, use24H bool, onData func(PasswordData)) error

	// StartDetectHeart starts streaming heart-rate samples to onData.
	StartDetectHeart(onData func(HeartData)) error
	// StopDetectHeart stops heart-rate streaming.
	StopDetectHeart() error
	// SetHeartWarning configures the heart-rate alarm.
	SetHeartWarning(high, low int, open bool, onData func(HeartWarningData)) error
	// ReadHeartWarning reads the heart-rate alarm.
	ReadHeartWarning(onData func(HeartWarningData)) error

	// SupportsSpO2 reports whether the linked device can measure blood oxygen.
	SupportsSpO2() bool
	// StartDetectSpO2 starts streaming blood-oxygen samples to onData.
	StartDetectSpO2(onData func(SpO2Data)) error
	// StopDetectSpO2 stops blood-oxygen streaming.
	StopDetectSpO2() error

	// ReadBattery reads the battery report.
	ReadBattery(onData func(BatteryData)) error
}
