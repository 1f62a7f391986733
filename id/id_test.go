package id

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_HasPrefix(t *testing.T) {
	t.Parallel()

	taskID := NewTaskID()
	if taskID.Prefix() != PrefixTask {
		t.Errorf("Prefix() = %q, want %q", taskID.Prefix(), PrefixTask)
	}
	if !strings.HasPrefix(taskID.String(), "task_") {
		t.Errorf("String() = %q, want task_ prefix", taskID.String())
	}

	workerID := NewWorkerID()
	if workerID.Prefix() != PrefixWorker {
		t.Errorf("Prefix() = %q, want %q", workerID.Prefix(), PrefixWorker)
	}
}

func TestNew_Unique(t *testing.T) {
	t.Parallel()

	a := NewTaskID()
	b := NewTaskID()
	if a.String() == b.String() {
		t.Errorf("two generated IDs are equal: %s", a)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	t.Parallel()

	orig := NewTaskID()
	parsed, err := Parse(orig.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip = %q, want %q", parsed.String(), orig.String())
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "not a typeid", "task_!!!"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", s)
		}
	}
}

func TestParseWithPrefix_Mismatch(t *testing.T) {
	t.Parallel()

	workerID := NewWorkerID()
	if _, err := ParseTaskID(workerID.String()); err == nil {
		t.Errorf("ParseTaskID(%q) succeeded, want prefix mismatch", workerID)
	}
}

func TestNil(t *testing.T) {
	t.Parallel()

	if !Nil.IsNil() {
		t.Error("Nil.IsNil() = false")
	}
	if Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", Nil.String())
	}
	if NewTaskID().IsNil() {
		t.Error("generated ID reports IsNil")
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	t.Parallel()

	orig := NewTaskID()
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var parsed ID
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip = %q, want %q", parsed.String(), orig.String())
	}
}

func TestNewFrameID(t *testing.T) {
	t.Parallel()

	if !strings.HasPrefix(NewFrameID(), "frm_") {
		t.Error("frame ID missing frm_ prefix")
	}
}
