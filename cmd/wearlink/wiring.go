package main

import (
	"fmt"
	"log/slog"

	"github.com/chaz8081/wearlink/internal/ble"
	"github.com/chaz8081/wearlink/internal/bridge"
	"github.com/chaz8081/wearlink/internal/config"
	"github.com/chaz8081/wearlink/internal/credentials"
	"github.com/chaz8081/wearlink/internal/events"
	"github.com/chaz8081/wearlink/internal/manager"
	"github.com/chaz8081/wearlink/internal/permission"
)

// stack is the assembled device side of the bridge.
type stack struct {
	dispatcher *events.Dispatcher
	bluetooth  *manager.Bluetooth
	managers   bridge.Managers
}

func (s *stack) Close() {
	s.bluetooth.Close()
	s.dispatcher.Close()
}

func newOperator(cfg *config.Config) (ble.Operator, error) {
	switch cfg.BLE.Backend {
	case "sim":
		slog.Info("[BLE] using simulated watch")
		return ble.NewSim(nil), nil
	case "radio":
		power, err := ble.NewBlueZPower(cfg.BLE.Adapter)
		if err != nil {
			// Scanning and connecting still work; only adapter power
			// control is lost.
			slog.Warn("[BT] adapter power control unavailable", "adapter", cfg.BLE.Adapter, "error", err)
			return ble.NewRadio(nil), nil
		}
		return ble.NewRadio(power), nil
	default:
		return nil, fmt.Errorf("unknown ble backend %q", cfg.BLE.Backend)
	}
}

func newPermissionHost(cfg *config.Config) permission.Host {
	if cfg.Permissions.Mode == "prompt" {
		return permission.NewPrompt()
	}
	p := cfg.Permissions
	hint := fmt.Sprintf("grant permissions in %s", config.DefaultConfigPath())
	return permission.NewPolicy(p.Granted, p.Restricted, p.DeniedPermanently, hint)
}

func newCredentialStore(cfg *config.Config) *credentials.Store {
	if cfg.Credentials.Backend == "keyring" {
		return credentials.NewStore(credentials.NewKeyringBackend(cfg.Credentials.KeyringService))
	}
	return credentials.NewStore(credentials.NewFileBackend(cfg.Credentials.Path))
}

func buildStack(cfg *config.Config) (*stack, error) {
	op, err := newOperator(cfg)
	if err != nil {
		return nil, err
	}

	d := events.NewDefaultDispatcher()
	opts := manager.OptionsFromConfig(cfg)
	bt := manager.NewBluetooth(op, newPermissionHost(cfg), newCredentialStore(cfg), d.MustStream(events.StreamScan), opts)

	return &stack{
		dispatcher: d,
		bluetooth:  bt,
		managers: bridge.Managers{
			Bluetooth: bt,
			Heart:     manager.NewHeart(op, d.MustStream(events.StreamHeart)),
			SpO2:      manager.NewSpO2(op, d.MustStream(events.StreamSpO2)),
			Battery:   manager.NewBattery(op, opts.OperationTimeout),
		},
	}, nil
}
