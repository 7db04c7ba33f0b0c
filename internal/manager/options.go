package manager

import (
	"time"

	"github.com/chaz8081/wearlink/internal/config"
)

// Options configures the Bluetooth manager and the feature managers.
type Options struct {
	ScanTimeout       time.Duration // scan auto-stops after this long
	MinScanInterval   time.Duration // minimum time between accepted scans; 0 disables
	RSSIDelta         int           // RSSI change that re-announces a device
	OperationTimeout  time.Duration // bound on connect, bind and battery reads
	ScanEnabled       bool
	PowerSave         bool
	Retry             RetryPolicy
	PlatformVersion   int
	ClearOnDisconnect bool
}

// DefaultOptions returns the values a wearable bridge ships with.
func DefaultOptions() Options {
	return Options{
		ScanTimeout:      60 * time.Second,
		MinScanInterval:  time.Minute,
		RSSIDelta:        10,
		OperationTimeout: 30 * time.Second,
		ScanEnabled:      true,
		Retry:            DefaultRetryPolicy(),
		PlatformVersion:  31,
	}
}

// OptionsFromConfig maps the ble, permissions and credentials sections of
// cfg onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ScanTimeout:      cfg.BLE.ScanTimeout,
		MinScanInterval:  cfg.BLE.MinScanInterval,
		RSSIDelta:        cfg.BLE.RSSIDelta,
		OperationTimeout: cfg.BLE.OperationTimeout,
		ScanEnabled:      cfg.BLE.ScanEnabled,
		PowerSave:        cfg.BLE.PowerSave,
		Retry: RetryPolicy{
			MaxAttempts:  cfg.BLE.Retry.MaxAttempts,
			InitialDelay: cfg.BLE.Retry.InitialDelay,
			MaxDelay:     cfg.BLE.Retry.MaxDelay,
		},
		PlatformVersion:   cfg.Permissions.PlatformVersion,
		ClearOnDisconnect: cfg.Credentials.ClearOnDisconnect,
	}
}
