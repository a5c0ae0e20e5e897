package types

import (
	"testing"
)

func TestMessageTag(t *testing.T) {
	t.Run("HeartbeatReserved", func(t *testing.T) {
		if HeartbeatTag != 'H' {
			t.Errorf("HeartbeatTag = %v, want 'H'", HeartbeatTag)
		}
		if !HeartbeatTag.IsReserved() {
			t.Error("心跳标签应为保留标签")
		}
		if MessageTag('D').IsReserved() {
			t.Error("普通标签不应为保留标签")
		}
	})

	t.Run("String", func(t *testing.T) {
		if got := MessageTag('D').String(); got != "'D'" {
			t.Errorf("MessageTag('D').String() = %q, want %q", got, "'D'")
		}
		if got := MessageTag(0).String(); got != "0" {
			t.Errorf("MessageTag(0).String() = %q, want %q", got, "0")
		}
		if got := MessageTag(200).String(); got != "200" {
			t.Errorf("MessageTag(200).String() = %q, want %q", got, "200")
		}
	})
}

func TestDirection(t *testing.T) {
	tests := []struct {
		d    Direction
		want string
	}{
		{DirectionInbound, "inbound"},
		{DirectionOutbound, "outbound"},
		{DirectionLoopback, "loopback"},
		{DirectionUnknown, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("Direction(%d).String() = %q, want %q", tt.d, got, tt.want)
		}
	}
}
