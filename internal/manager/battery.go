package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chaz8081/wearlink/internal/ble"
)

// BatteryReport is the device battery state returned by readBattery.
type BatteryReport struct {
	Level      int  `json:"level"`
	Percent    int  `json:"percent"`
	PowerModel int  `json:"powerModel"`
	State      int  `json:"state"`
	Bat        int  `json:"bat"`
	IsLow      bool `json:"isLow"`
	IsPercent  bool `json:"isPercent"`
}

// Battery reads the battery report of the linked device.
type Battery struct {
	op      ble.Operator
	timeout time.Duration
}

func NewBattery(op ble.Operator, timeout time.Duration) *Battery {
	return &Battery{op: op, timeout: timeout}
}

// Read returns the first battery report the device sends.
func (b *Battery) Read(ctx context.Context) (BatteryReport, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	r := newReply[BatteryReport]()
	err := operatorCall("battery read", func() error {
		return b.op.ReadBattery(func(d ble.BatteryData) {
			r.resolve(BatteryReport{
				Level:      d.Level,
				Percent:    d.Percent,
				PowerModel: d.PowerModel,
				State:      d.State,
				Bat:        d.Bat,
				IsLow:      d.IsLow,
				IsPercent:  d.IsPercent,
			}, nil)
		})
	})
	if err != nil {
		return BatteryReport{}, err
	}

	report, err := r.wait(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return BatteryReport{}, &Error{
				Code:    CodeOperationTimeout,
				Message: fmt.Sprintf("Failed to read battery level: timed out after %dms", b.timeout.Milliseconds()),
				Err:     err,
			}
		}
		return BatteryReport{}, fmt.Errorf("manager: read battery: %w", err)
	}
	return report, nil
}
