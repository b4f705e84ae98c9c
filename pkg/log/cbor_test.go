package log

import (
	"bytes"
	"testing"
	"time"

	"github.com/iio-remote/iiod-go/pkg/wire"
)

func TestEventCBORRoundTrip(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456789, time.UTC)
	original := Event{
		Timestamp:    ts,
		ConnectionID: "abc12345-def6-7890-abcd-ef1234567890",
		Direction:    DirectionOut,
		Layer:        LayerWire,
		Category:     CategoryCommand,
		LocalRole:    RoleClient,
		RemoteAddr:   "192.168.1.100:30431",
		Device:       "iio:device0",
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !decoded.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp: got %v, want %v", decoded.Timestamp, original.Timestamp)
	}
	if decoded.ConnectionID != original.ConnectionID {
		t.Errorf("ConnectionID: got %q, want %q", decoded.ConnectionID, original.ConnectionID)
	}
	if decoded.Direction != original.Direction {
		t.Errorf("Direction: got %v, want %v", decoded.Direction, original.Direction)
	}
	if decoded.LocalRole != original.LocalRole {
		t.Errorf("LocalRole: got %v, want %v", decoded.LocalRole, original.LocalRole)
	}
	if decoded.RemoteAddr != original.RemoteAddr {
		t.Errorf("RemoteAddr: got %q, want %q", decoded.RemoteAddr, original.RemoteAddr)
	}
	if decoded.Device != original.Device {
		t.Errorf("Device: got %q, want %q", decoded.Device, original.Device)
	}
}

func TestCommandEventCBORRoundTrip(t *testing.T) {
	processing := 3 * time.Millisecond

	tests := []struct {
		name string
		cmd  *CommandEvent
	}{
		{
			name: "request",
			cmd:  &CommandEvent{ClientID: 7, Op: wire.OpReadChnAttr, Dev: 1, Code: 0x00020003},
		},
		{
			name: "response with payload",
			cmd:  &CommandEvent{Op: wire.OpResponse, Code: 12, PayloadSize: 12, ProcessingTime: &processing},
		},
		{
			name: "error response",
			cmd:  &CommandEvent{ClientID: 0xffff, Op: wire.OpResponse, Code: wire.EINVAL.Code()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeEvent(Event{
				Timestamp: time.Now(),
				Layer:     LayerWire,
				Category:  CategoryCommand,
				Command:   tt.cmd,
			})
			if err != nil {
				t.Fatalf("EncodeEvent failed: %v", err)
			}

			decoded, err := DecodeEvent(data)
			if err != nil {
				t.Fatalf("DecodeEvent failed: %v", err)
			}
			if decoded.Command == nil {
				t.Fatal("Command is nil")
			}
			got := decoded.Command
			if got.ClientID != tt.cmd.ClientID || got.Op != tt.cmd.Op || got.Dev != tt.cmd.Dev || got.Code != tt.cmd.Code {
				t.Errorf("Command: got %+v, want %+v", got, tt.cmd)
			}
			if (got.ProcessingTime == nil) != (tt.cmd.ProcessingTime == nil) {
				t.Errorf("ProcessingTime presence mismatch")
			}
		})
	}
}

func TestTextEventCBORRoundTrip(t *testing.T) {
	result := int64(-22)
	data, err := EncodeEvent(Event{
		Timestamp: time.Now(),
		Layer:     LayerWire,
		Category:  CategoryText,
		Text:      &TextEvent{Line: "READ iio:device0 INPUT voltage0 raw", Result: &result},
	})
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if decoded.Text == nil || decoded.Text.Line != "READ iio:device0 INPUT voltage0 raw" {
		t.Fatalf("Text: got %+v", decoded.Text)
	}
	if decoded.Text.Result == nil || *decoded.Text.Result != -22 {
		t.Errorf("Result: got %v, want -22", decoded.Text.Result)
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	for i := 0; i < 3; i++ {
		ev := Event{
			Timestamp: time.Now(),
			Category:  CategoryState,
			StateChange: &StateChangeEvent{
				Entity:   StateEntityBuffer,
				NewState: "enabled",
			},
		}
		if err := enc.Encode(ev); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}

	dec := NewDecoder(&buf)
	for i := 0; i < 3; i++ {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			t.Fatalf("Decode %d failed: %v", i, err)
		}
		if ev.StateChange == nil || ev.StateChange.Entity != StateEntityBuffer {
			t.Errorf("event %d: got %+v", i, ev.StateChange)
		}
	}
}

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DirectionIn.String(), "IN"},
		{Direction(9).String(), "UNKNOWN"},
		{LayerWire.String(), "WIRE"},
		{CategoryText.String(), "TEXT"},
		{RoleServer.String(), "SERVER"},
		{StateEntitySession.String(), "SESSION"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
