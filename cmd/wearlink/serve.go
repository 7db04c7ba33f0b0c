package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chaz8081/wearlink/internal/bridge"
	"github.com/chaz8081/wearlink/internal/config"
	"github.com/chaz8081/wearlink/internal/gateway"
)

func serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Gateway.Listen = listen
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address override, e.g. 127.0.0.1:8765")
	return cmd
}

func runServe(cfg *config.Config) error {
	printBanner(cfg)

	s, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := gateway.NewServer(cfg.Gateway, bridge.New(s.managers), s.dispatcher, version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	slog.Info("[BRIDGE] shut down")
	return nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== wearlink ===")
	fmt.Printf("  Gateway:  ws://%s%s\n", cfg.Gateway.Listen, cfg.Gateway.Path)
	fmt.Printf("  Backend:  %s (adapter %s)\n", cfg.BLE.Backend, cfg.BLE.Adapter)
	fmt.Printf("  Scan:     timeout %s, min interval %s, rssi delta %d\n", cfg.BLE.ScanTimeout, cfg.BLE.MinScanInterval, cfg.BLE.RSSIDelta)
	fmt.Printf("  Perms:    %s\n", cfg.Permissions.Mode)
	fmt.Printf("  Creds:    %s\n", cfg.Credentials.Backend)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("================")
}
