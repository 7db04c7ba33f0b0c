package ble

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBusName      = "org.bluez"
	bluezAdapterIface = "org.bluez.Adapter1"
	dbusPropsIface    = "org.freedesktop.DBus.Properties"
)

// Power switches the local Bluetooth adapter on and off.
type Power interface {
	Powered() (bool, error)
	SetPowered(on bool) error
}

// BlueZPower controls adapter power through BlueZ on the system D-Bus.
type BlueZPower struct {
	conn *dbus.Conn
	path dbus.ObjectPath
}

// NewBlueZPower connects to the system bus and checks that BlueZ is running.
// adapter is the controller name, e.g. "hci0".
func NewBlueZPower(adapter string) (*BlueZPower, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("ble: connect to system bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("ble: list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == bluezBusName {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("ble: org.bluez not found on system bus, is bluetooth.service running?")
	}

	return &BlueZPower{
		conn: conn,
		path: dbus.ObjectPath("/org/bluez/" + adapter),
	}, nil
}

func (b *BlueZPower) Powered() (bool, error) {
	var v dbus.Variant
	obj := b.conn.Object(bluezBusName, b.path)
	if err := obj.Call(dbusPropsIface+".Get", 0, bluezAdapterIface, "Powered").Store(&v); err != nil {
		return false, fmt.Errorf("ble: get Powered: %w", err)
	}
	on, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("ble: property Powered is not bool")
	}
	return on, nil
}

func (b *BlueZPower) SetPowered(on bool) error {
	obj := b.conn.Object(bluezBusName, b.path)
	if err := obj.Call(dbusPropsIface+".Set", 0, bluezAdapterIface, "Powered", dbus.MakeVariant(on)).Err; err != nil {
		return fmt.Errorf("ble: set Powered=%v: %w", on, err)
	}
	return nil
}

var _ Power = (*BlueZPower)(nil)
