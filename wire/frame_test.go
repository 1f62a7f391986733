package wire

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewRequestFrame(t *testing.T) {
	t.Parallel()

	frame, err := NewRequestFrame(MethodTaskSubmit, TaskSubmitRequest{
		Name:    "inc",
		Payload: json.RawMessage(`{"x":1}`),
	})
	if err != nil {
		t.Fatalf("NewRequestFrame: %v", err)
	}

	if frame.Type != FrameRequest {
		t.Errorf("Type = %q, want %q", frame.Type, FrameRequest)
	}
	if frame.Method != MethodTaskSubmit {
		t.Errorf("Method = %q, want %q", frame.Method, MethodTaskSubmit)
	}
	if !strings.HasPrefix(frame.ID, "frm_") {
		t.Errorf("ID = %q, want frm_ prefix", frame.ID)
	}
	if frame.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}

	var req TaskSubmitRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if req.Name != "inc" {
		t.Errorf("payload name = %q, want %q", req.Name, "inc")
	}
}

func TestNewResponseFrame(t *testing.T) {
	t.Parallel()

	frame, err := NewResponseFrame("correl-1", TaskSubmitResponse{Key: "k1", State: "waiting"})
	if err != nil {
		t.Fatalf("NewResponseFrame: %v", err)
	}

	if frame.Type != FrameResponse {
		t.Errorf("Type = %q, want %q", frame.Type, FrameResponse)
	}
	if frame.CorrelID != "correl-1" {
		t.Errorf("CorrelID = %q, want %q", frame.CorrelID, "correl-1")
	}
}

func TestNewErrorFrame(t *testing.T) {
	t.Parallel()

	frame := NewErrorFrame("correl-2", ErrCodeNotFound, "no such task")
	if frame.Type != FrameErr {
		t.Errorf("Type = %q, want %q", frame.Type, FrameErr)
	}
	if frame.Error == nil || frame.Error.Code != ErrCodeNotFound {
		t.Errorf("Error = %+v, want code %d", frame.Error, ErrCodeNotFound)
	}
}

func TestNewEventFrame(t *testing.T) {
	t.Parallel()

	frame, err := NewEventFrame("task-key-1", TaskResult{Key: "task-key-1", State: "memory"})
	if err != nil {
		t.Fatalf("NewEventFrame: %v", err)
	}
	if frame.Type != FrameEvent {
		t.Errorf("Type = %q, want %q", frame.Type, FrameEvent)
	}
	if frame.Channel != "task-key-1" {
		t.Errorf("Channel = %q, want %q", frame.Channel, "task-key-1")
	}
}

func TestCodecs_RoundTrip(t *testing.T) {
	t.Parallel()

	orig, err := NewRequestFrame(MethodTaskGather, TaskGatherRequest{Keys: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("NewRequestFrame: %v", err)
	}

	for _, name := range []string{CodecNameJSON, CodecNameMsgpack} {
		codec := GetCodec(name)
		if codec.Name() != name {
			t.Errorf("GetCodec(%q).Name() = %q", name, codec.Name())
		}

		data, err := codec.Encode(orig)
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		decoded, err := codec.Decode(data)
		if err != nil {
			t.Fatalf("%s decode: %v", name, err)
		}
		if decoded.ID != orig.ID || decoded.Method != orig.Method || decoded.Type != orig.Type {
			t.Errorf("%s round trip mismatch: %+v", name, decoded)
		}
	}
}

func TestGetCodec_DefaultsToJSON(t *testing.T) {
	t.Parallel()

	if GetCodec("").Name() != CodecNameJSON {
		t.Error("empty name should default to JSON")
	}
	if GetCodec("protobuf").Name() != CodecNameJSON {
		t.Error("unknown name should default to JSON")
	}
}
