package bridge

import (
	"context"

	"github.com/chaz8081/wearlink/internal/manager"
	"github.com/chaz8081/wearlink/internal/protocol"
)

// Managers are the collaborators the device methods delegate to.
type Managers struct {
	Bluetooth *manager.Bluetooth
	Heart     *manager.Heart
	SpO2      *manager.SpO2
	Battery   *manager.Battery
}

// New returns a router with every device method registered.
func New(m Managers) *Router {
	r := NewRouter()
	bt := m.Bluetooth

	r.Register(protocol.MethodRequestBluetoothPermissions, func(ctx context.Context, _ *Call) (any, error) {
		status, err := bt.RequestPermissions(ctx)
		if err != nil {
			return nil, err
		}
		return string(status), nil
	})
	r.Register(protocol.MethodOpenAppSettings, func(context.Context, *Call) (any, error) {
		return nil, bt.OpenAppSettings()
	})
	r.Register(protocol.MethodIsBluetoothEnabled, func(context.Context, *Call) (any, error) {
		return bt.IsBluetoothEnabled(), nil
	})
	r.Register(protocol.MethodOpenBluetooth, func(ctx context.Context, _ *Call) (any, error) {
		return nil, bt.OpenBluetooth(ctx)
	})
	r.Register(protocol.MethodCloseBluetooth, func(ctx context.Context, _ *Call) (any, error) {
		return nil, bt.CloseBluetooth(ctx)
	})
	r.Register(protocol.MethodScanDevices, func(ctx context.Context, _ *Call) (any, error) {
		return nil, bt.Scan(ctx)
	})
	r.Register(protocol.MethodStopScanDevices, func(ctx context.Context, _ *Call) (any, error) {
		return nil, bt.StopScan(ctx)
	})

	r.Register(protocol.MethodConnectDevice, func(ctx context.Context, c *Call) (any, error) {
		address, err := c.String("address")
		if err != nil {
			return nil, err
		}
		return bt.Connect(ctx, address)
	}, Arg("address"))

	r.Register(protocol.MethodBindDevice, func(ctx context.Context, c *Call) (any, error) {
		password, err := c.String("password")
		if err != nil {
			return nil, err
		}
		use24H, err := c.Bool("use24HourFormat")
		if err != nil {
			return nil, err
		}
		return bt.BindDevice(ctx, password, use24H)
	}, Arg("password"), Arg("use24HourFormat", "is24H"))

	r.Register(protocol.MethodDisconnectDevice, func(ctx context.Context, _ *Call) (any, error) {
		return nil, bt.Disconnect(ctx)
	})
	r.Register(protocol.MethodGetAddress, func(context.Context, *Call) (any, error) {
		return bt.Address(), nil
	})
	r.Register(protocol.MethodGetCurrentStatus, func(context.Context, *Call) (any, error) {
		return bt.CurrentStatus(), nil
	})
	r.Register(protocol.MethodIsDeviceConnected, func(context.Context, *Call) (any, error) {
		return bt.IsDeviceConnected(), nil
	})

	r.Register(protocol.MethodStartDetectHeart, func(context.Context, *Call) (any, error) {
		return nil, m.Heart.Start()
	})
	r.Register(protocol.MethodStopDetectHeart, func(context.Context, *Call) (any, error) {
		return nil, m.Heart.Stop()
	})
	r.Register(protocol.MethodSettingHeartWarning, func(_ context.Context, c *Call) (any, error) {
		high, err := c.Int("high")
		if err != nil {
			return nil, err
		}
		low, err := c.Int("low")
		if err != nil {
			return nil, err
		}
		open, err := c.Bool("open")
		if err != nil {
			return nil, err
		}
		return nil, m.Heart.SetWarning(high, low, open)
	}, Arg("high"), Arg("low"), Arg("open"))
	r.Register(protocol.MethodReadHeartWarning, func(context.Context, *Call) (any, error) {
		return nil, m.Heart.ReadWarning()
	})

	r.Register(protocol.MethodStartDetectSpoh, func(context.Context, *Call) (any, error) {
		return nil, m.SpO2.Start()
	})
	r.Register(protocol.MethodStopDetectSpoh, func(context.Context, *Call) (any, error) {
		return nil, m.SpO2.Stop()
	})
	r.Register(protocol.MethodReadBattery, func(ctx context.Context, _ *Call) (any, error) {
		return m.Battery.Read(ctx)
	})

	return r
}
