package ble

import "tinygo.org/x/bluetooth"

// scanner is the discovery side of a Bluetooth adapter.
//
// Scan blocks until the scan ends. StopScan may return before the blocking
// Scan call does; on BlueZ the old call still tears down discovery on its
// way out.
type scanner interface {
	Enable() error
	Scan(onResult func(ScanResult)) error
	StopScan() error
}

// adapterScanner adapts a tinygo adapter to scanner.
type adapterScanner struct {
	adapter *bluetooth.Adapter
}

func (a adapterScanner) Enable() error {
	return a.adapter.Enable()
}

func (a adapterScanner) Scan(onResult func(ScanResult)) error {
	return a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		onResult(ScanResult{
			Name:    result.LocalName(),
			Address: result.Address.String(),
			RSSI:    int(result.RSSI),
		})
	})
}

func (a adapterScanner) StopScan() error {
	return a.adapter.StopScan()
}
