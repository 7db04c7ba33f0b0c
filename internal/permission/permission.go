// Package permission models the host permission checks that gate Bluetooth
// operations: which permissions a platform version requires, how grant
// results collapse into a single outcome, and the Host that answers them.
package permission

import "context"

// Permission names a host permission.
type Permission string

const (
	BluetoothScan        Permission = "BLUETOOTH_SCAN"
	BluetoothConnect     Permission = "BLUETOOTH_CONNECT"
	Bluetooth            Permission = "BLUETOOTH"
	BluetoothAdmin       Permission = "BLUETOOTH_ADMIN"
	AccessFineLocation   Permission = "ACCESS_FINE_LOCATION"
	AccessCoarseLocation Permission = "ACCESS_COARSE_LOCATION"
)

// Status is the collapsed outcome of a permission check.
type Status string

const (
	Granted           Status = "GRANTED"
	Denied            Status = "DENIED"
	PermanentlyDenied Status = "PERMANENTLY_DENIED"
	Restricted        Status = "RESTRICTED"
	Unknown           Status = "UNKNOWN"
)

// Grant is the host's answer for one requested permission.
type Grant int

const (
	GrantDenied Grant = iota
	GrantGranted
	GrantRestricted
)

// Platform versions at which the required set changes.
const (
	versionRuntimePermissions = 23
	versionNearbyDevices      = 31
)

// Required returns the permissions Bluetooth operations need on the given
// platform version.
func Required(platformVersion int) []Permission {
	switch {
	case platformVersion >= versionNearbyDevices:
		return []Permission{BluetoothScan, BluetoothConnect, AccessFineLocation}
	case platformVersion >= versionRuntimePermissions:
		return []Permission{Bluetooth, BluetoothAdmin, AccessFineLocation}
	default:
		return []Permission{Bluetooth, BluetoothAdmin, AccessCoarseLocation}
	}
}

// Host is the permission system of the machine the bridge runs on.
type Host interface {
	// Granted reports whether p is currently granted.
	Granted(p Permission) bool
	// ShouldShowRationale reports whether the host would still prompt for p.
	// False after a denial means the user chose not to be asked again.
	ShouldShowRationale(p Permission) bool
	// Request asks for perms. It returns immediately; done is called exactly
	// once, from any goroutine, with one Grant per requested permission.
	Request(perms []Permission, done func([]Grant))
	// OpenSettings shows the place where the user can change grants manually.
	OpenSettings() error
}

// AllGranted reports whether every permission in perms is granted.
func AllGranted(h Host, perms []Permission) bool {
	for _, p := range perms {
		if !h.Granted(p) {
			return false
		}
	}
	return true
}

// Evaluate collapses grant results into a Status. Restriction by policy
// wins over denial, and a denial the host will no longer prompt for is
// permanent.
func Evaluate(h Host, perms []Permission, grants []Grant) Status {
	if len(grants) == 0 || len(grants) != len(perms) {
		return Unknown
	}

	all := true
	denied := false
	for _, g := range grants {
		switch g {
		case GrantRestricted:
			return Restricted
		case GrantDenied:
			denied = true
			all = false
		case GrantGranted:
		default:
			all = false
		}
	}
	if all {
		return Granted
	}
	if denied {
		for i, p := range perms {
			if grants[i] == GrantDenied && !h.ShouldShowRationale(p) {
				return PermanentlyDenied
			}
		}
		return Denied
	}
	return Unknown
}

// RequestStatus checks perms and, if any is missing, requests them and
// waits for the host's answer or ctx cancellation.
func RequestStatus(ctx context.Context, h Host, perms []Permission) (Status, error) {
	if AllGranted(h, perms) {
		return Granted, nil
	}

	ch := make(chan []Grant, 1)
	h.Request(perms, func(grants []Grant) {
		select {
		case ch <- grants:
		default:
		}
	})

	select {
	case grants := <-ch:
		return Evaluate(h, perms, grants), nil
	case <-ctx.Done():
		return Unknown, ctx.Err()
	}
}

// Message returns the human-readable explanation for a non-granted status.
func Message(s Status) string {
	switch s {
	case Denied:
		return "Bluetooth permissions denied"
	case PermanentlyDenied:
		return "Bluetooth permissions permanently denied"
	case Restricted:
		return "Bluetooth permissions restricted by device policy"
	default:
		return "Unknown permission status"
	}
}
