package manager

import (
	"log/slog"

	"github.com/chaz8081/wearlink/internal/ble"
	"github.com/chaz8081/wearlink/internal/events"
)

// HeartSample is a heart-rate reading as emitted on the heart stream.
type HeartSample struct {
	Data  int    `json:"data"`
	State string `json:"state"`
}

// HeartWarning is the heart-rate alarm as emitted on the heart stream.
type HeartWarning struct {
	Type   string `json:"type"` // always "warning"
	High   int    `json:"high"`
	Low    int    `json:"low"`
	Open   bool   `json:"open"`
	Status string `json:"status"`
}

// Heart forwards heart-rate detection and alarm data to a stream.
type Heart struct {
	op     ble.Operator
	stream *events.Stream
}

func NewHeart(op ble.Operator, stream *events.Stream) *Heart {
	return &Heart{op: op, stream: stream}
}

func (h *Heart) Start() error {
	err := operatorCall("heart rate detection", func() error {
		return h.op.StartDetectHeart(h.onData)
	})
	if err != nil {
		slog.Error("[HEART] start detection failed", "error", err)
		return err
	}
	slog.Info("[HEART] detection started")
	return nil
}

func (h *Heart) Stop() error {
	if err := operatorCall("heart rate detection", h.op.StopDetectHeart); err != nil {
		slog.Error("[HEART] stop detection failed", "error", err)
		return err
	}
	slog.Info("[HEART] detection stopped")
	return nil
}

// SetWarning configures the alarm thresholds in bpm.
func (h *Heart) SetWarning(high, low int, open bool) error {
	return operatorCall("heart rate warning", func() error {
		return h.op.SetHeartWarning(high, low, open, h.onWarning)
	})
}

// ReadWarning asks the device for its alarm; the answer arrives on the stream.
func (h *Heart) ReadWarning() error {
	return operatorCall("heart rate warning", func() error {
		return h.op.ReadHeartWarning(h.onWarning)
	})
}

func (h *Heart) onData(d ble.HeartData) {
	h.stream.Emit(HeartSample{Data: d.Value, State: d.Status})
}

func (h *Heart) onWarning(d ble.HeartWarningData) {
	slog.Debug("[HEART] warning data", "high", d.High, "low", d.Low, "open", d.Open, "status", d.Status)
	h.stream.Emit(HeartWarning{Type: "warning", High: d.High, Low: d.Low, Open: d.Open, Status: d.Status})
}
