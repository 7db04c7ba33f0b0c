package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/wearlink/internal/events"
	"github.com/chaz8081/wearlink/internal/manager"
)

func scanCmd() *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for nearby watches and print each discovered-device list",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// A one-shot scan from the terminal is never throttled.
			cfg.BLE.MinScanInterval = 0
			if duration > 0 {
				cfg.BLE.ScanTimeout = duration
			}

			s, err := buildStack(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := watchScan(s.dispatcher.MustStream(events.StreamScan), os.Stdout)
			defer w.Close()

			if err := s.bluetooth.Scan(ctx); err != nil {
				return err
			}
			fmt.Printf("Scanning for %s. Ctrl+C to stop.\n", cfg.BLE.ScanTimeout)

			select {
			case <-ctx.Done():
			case <-time.After(cfg.BLE.ScanTimeout):
			}
			if err := s.bluetooth.StopScan(context.Background()); err != nil {
				slog.Warn("[BT] stop scan", "error", err)
			}
			if !w.Drain(2 * time.Second) {
				slog.Warn("[BT] timed out waiting for the final scan list")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "scan duration (default: ble.scan_timeout)")
	return cmd
}

// scanDrained marks the end of the scan stream for a scanWatcher.
type scanDrained struct{}

// scanWatcher prints every discovered-device list delivered on a scan
// stream.
type scanWatcher struct {
	stream      *events.Stream
	unsubscribe func()
	drained     chan struct{}
}

func watchScan(stream *events.Stream, out io.Writer) *scanWatcher {
	w := &scanWatcher{stream: stream, drained: make(chan struct{})}
	w.unsubscribe = stream.Subscribe(func(payload any) {
		if _, ok := payload.(scanDrained); ok {
			close(w.drained)
			return
		}
		devices, _ := payload.([]manager.Device)
		fmt.Fprintf(out, "--- %d device(s) ---\n", len(devices))
		for _, d := range devices {
			fmt.Fprintf(out, "  %-20s %s  %4d dBm\n", d.Name, d.Address, d.RSSI)
		}
	})
	return w
}

// Drain waits until every list emitted before the call has been printed.
// The stream delivers in order, so a marker emitted now arrives last.
func (w *scanWatcher) Drain(timeout time.Duration) bool {
	w.stream.Emit(scanDrained{})
	select {
	case <-w.drained:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (w *scanWatcher) Close() {
	w.unsubscribe()
}
