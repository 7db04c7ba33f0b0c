// Command test-scan is a manual test for the BLE device operator.
// It prints every advertisement it sees, without deduplication.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-scan [--backend radio|sim] [--adapter hci0] [--duration 10s]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chaz8081/wearlink/internal/ble"
)

func main() {
	backend := flag.String("backend", "radio", "device backend: radio or sim")
	adapter := flag.String("adapter", "hci0", "BlueZ adapter for power control")
	duration := flag.Duration("duration", 10*time.Second, "how long to scan")
	flag.Parse()

	var op ble.Operator
	switch *backend {
	case "sim":
		op = ble.NewSim(nil)
	case "radio":
		power, err := ble.NewBlueZPower(*adapter)
		if err != nil {
			fmt.Printf("Power control unavailable (%v), continuing without it\n", err)
			op = ble.NewRadio(nil)
		} else {
			op = ble.NewRadio(power)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown backend %q\n", *backend)
		os.Exit(2)
	}

	fmt.Printf("Bluetooth enabled: %v\n", op.IsBluetoothOpened())

	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }
	err := op.StartScan(ble.ScanHandler{
		OnFound: func(r ble.ScanResult) {
			fmt.Printf("  %-20s %s  %4d dBm\n", r.Name, r.Address, r.RSSI)
		},
		OnStopped: func() {
			fmt.Println("Scan stopped.")
			finish()
		},
		OnCanceled: func() {
			fmt.Println("Scan canceled.")
			finish()
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start scan: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Scanning for %s. Press Ctrl+C to stop.\n", *duration)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		fmt.Println("\nShutting down...")
	case <-time.After(*duration):
	case <-done:
		return
	}

	if err := op.StopScan(); err != nil {
		fmt.Fprintf(os.Stderr, "stop scan: %v\n", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	fmt.Println("Done.")
}
