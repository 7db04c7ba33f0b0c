package manager

import (
	"log/slog"

	"github.com/chaz8081/wearlink/internal/ble"
	"github.com/chaz8081/wearlink/internal/events"
)

// SpO2Sample is a blood-oxygen reading as emitted on the SpO2 stream.
type SpO2Sample struct {
	SpohStatus       string `json:"spohStatus"`
	DeviceStatus     string `json:"deviceStatus"`
	Value            int    `json:"value"`
	Checking         bool   `json:"checking"`
	CheckingProgress int    `json:"checkingProgress"`
	Rate             int    `json:"rate"`
}

// SpO2 forwards blood-oxygen detection data to a stream. Every operation
// fails fast with UNSUPPORTED when the device cannot measure SpO2.
type SpO2 struct {
	op     ble.Operator
	stream *events.Stream
}

func NewSpO2(op ble.Operator, stream *events.Stream) *SpO2 {
	return &SpO2{op: op, stream: stream}
}

func (s *SpO2) Start() error {
	return s.run("start", func() error { return s.op.StartDetectSpO2(s.onData) })
}

func (s *SpO2) Stop() error {
	return s.run("stop", s.op.StopDetectSpO2)
}

func (s *SpO2) run(action string, fn func() error) error {
	if !s.op.SupportsSpO2() {
		return NewError(CodeUnsupported, "SpO2 detection is not supported on this device")
	}
	if err := operatorCall("SpO2 operation", fn); err != nil {
		slog.Error("[SPO2] operation failed", "action", action, "error", err)
		return err
	}
	slog.Info("[SPO2] detection " + action)
	return nil
}

func (s *SpO2) onData(d ble.SpO2Data) {
	s.stream.Emit(SpO2Sample{
		SpohStatus:       d.State,
		DeviceStatus:     d.DeviceState,
		Value:            d.Value,
		Checking:         d.Checking,
		CheckingProgress: d.CheckingProgress,
		Rate:             d.Rate,
	})
}
