package scheduler

import (
	"testing"

	"github.com/hibiken/asynq"
)

func TestDialBatchPayloadRoundTrip(t *testing.T) {
	payload := DialBatchPayload{Campaign: "energia-agosto", BatchSize: 10}

	task, err := NewDialBatchTask(payload)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Type() != TaskDialBatch {
		t.Fatalf("unexpected task type %q", task.Type())
	}

	got, err := ParseDialBatchPayload(task)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if got != payload {
		t.Fatalf("payload mismatch: got %+v, want %+v", got, payload)
	}
}

func TestParseDialBatchPayloadRejectsGarbage(t *testing.T) {
	bad := asynq.NewTask(TaskDialBatch, []byte("not json"))
	if _, err := ParseDialBatchPayload(bad); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
