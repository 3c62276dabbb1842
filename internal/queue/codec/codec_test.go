package codec

import (
	"errors"
	"testing"
)

func TestEncodeDecodeJob_RoundTrip(t *testing.T) {
	score := int64(1_700_000_005_000)
	def := &JobDef{
		ID:          "job-123",
		Function:    "say_hi",
		Args:        []any{"wutong"},
		EnqueueTime: 1_700_000_000_000,
		QueueName:   "pai:queue",
		Score:       &score,
	}

	b, err := EncodeJob(def)
	if err != nil {
		t.Fatalf("EncodeJob error: %v", err)
	}

	decoded, err := DecodeJob(def.ID, b)
	if err != nil {
		t.Fatalf("DecodeJob error: %v", err)
	}

	if decoded.Function != def.Function {
		t.Fatalf("expected function %s, got %s", def.Function, decoded.Function)
	}
	if decoded.QueueName != def.QueueName {
		t.Fatalf("expected queue %s, got %s", def.QueueName, decoded.QueueName)
	}
	if decoded.Score == nil || *decoded.Score != score {
		t.Fatalf("expected score %d, got %v", score, decoded.Score)
	}
}

func TestDecodeJob_Malformed(t *testing.T) {
	_, err := DecodeJob("job-bad", []byte("not json"))
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected *DecodeError, got %T", err)
	}
	if !errors.Is(err, ErrDecodeJob) {
		t.Fatalf("expected ErrDecodeJob in chain, got %v", err)
	}
	if decErr.ID != "job-bad" {
		t.Fatalf("expected ID job-bad, got %s", decErr.ID)
	}
}

func TestEncodeDecodeResult_RoundTrip(t *testing.T) {
	res := &JobResult{
		JobDef: JobDef{
			ID:          "job-456",
			Function:    "say_hello",
			EnqueueTime: 1_700_000_000_000,
			QueueName:   "default:queue",
		},
		Success:    true,
		Result:     nil,
		StartTime:  1_700_000_001_000,
		FinishTime: 1_700_000_002_000,
		WorkerName: "cp_1",
	}

	b, err := EncodeResult(res)
	if err != nil {
		t.Fatalf("EncodeResult error: %v", err)
	}

	decoded, err := DecodeResult(res.ID, b)
	if err != nil {
		t.Fatalf("DecodeResult error: %v", err)
	}
	if !decoded.Success {
		t.Fatalf("expected success=true")
	}
	if decoded.WorkerName != res.WorkerName {
		t.Fatalf("expected worker %s, got %s", res.WorkerName, decoded.WorkerName)
	}
}

func TestDecodeResult_Malformed(t *testing.T) {
	_, err := DecodeResult("job-bad", []byte("{"))
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !errors.Is(err, ErrDecodeResult) {
		t.Fatalf("expected ErrDecodeResult in chain, got %v", err)
	}
}
