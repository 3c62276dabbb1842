// Package codec defines the wire records for job definitions and results
// and the pluggable serializer/deserializer pair used to move them in and
// out of the shared store. JSON is the default format: self-describing and
// tool-readable, per the text-vs-binary choice documented in DESIGN.md.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrDecodeJob    = errors.New("codec: malformed job definition")
	ErrDecodeResult = errors.New("codec: malformed job result")
)

// Sentinel ErrorMessage values a JobResult carries for the two
// cancellation outcomes (spec §4.F "Cancellation via abort" / "Timeout").
// jobhandle.Result tells them apart by this string.
const (
	CancelledMarker = "cancelled"
	TimeoutMarker   = "timeout"
)

// DecodeError wraps a decode failure on a single record. It is never
// allowed to crash the worker loop: the owning job is finalized as failed
// carrying this error as its result (spec §4.F "Executing one job", step 1).
type DecodeError struct {
	ID  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: job %s: %v", e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// JobDef is the immutable-once-enqueued job definition (spec §3).
type JobDef struct {
	ID          string         `json:"job_id"`
	Function    string         `json:"function"`
	Args        []any          `json:"args,omitempty"`
	Kwargs      map[string]any `json:"kwargs,omitempty"`
	JobTry      int            `json:"job_try,omitempty"`
	EnqueueTime int64          `json:"enqueue_time"` // ms since epoch
	QueueName   string         `json:"queue_name"`
	Score       *int64         `json:"score,omitempty"` // populated by Info when still queued
}

// JobResult is JobDef's fields union {success, value/error, timing, owner}.
type JobResult struct {
	JobDef

	Success      bool   `json:"success"`
	Result       any    `json:"result,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
	StartTime    int64  `json:"start_time"`
	FinishTime   int64  `json:"finish_time"`
	WorkerName   string `json:"worker_name"`
}

// Serializer/Deserializer let a caller swap the wire format without
// touching the rest of the queue. json.Marshal/json.Unmarshal are the
// default and only implementation shipped; both operate on self-contained records so a
// future binary codec can be dropped in without changing any caller.
type Serializer func(v any) ([]byte, error)
type Deserializer func(data []byte, v any) error

var (
	DefaultSerializer   Serializer   = json.Marshal
	DefaultDeserializer Deserializer = json.Unmarshal
)

func EncodeJob(def *JobDef) ([]byte, error) {
	b, err := DefaultSerializer(def)
	if err != nil {
		return nil, fmt.Errorf("codec: encode job %s: %w", def.ID, err)
	}
	return b, nil
}

func DecodeJob(id string, data []byte) (*JobDef, error) {
	var def JobDef
	if err := DefaultDeserializer(data, &def); err != nil {
		return nil, &DecodeError{ID: id, Err: fmt.Errorf("%w: %v", ErrDecodeJob, err)}
	}
	return &def, nil
}

func EncodeResult(res *JobResult) ([]byte, error) {
	b, err := DefaultSerializer(res)
	if err != nil {
		return nil, fmt.Errorf("codec: encode result %s: %w", res.ID, err)
	}
	return b, nil
}

func DecodeResult(id string, data []byte) (*JobResult, error) {
	var res JobResult
	if err := DefaultDeserializer(data, &res); err != nil {
		return nil, &DecodeError{ID: id, Err: fmt.Errorf("%w: %v", ErrDecodeResult, err)}
	}
	return &res, nil
}

// WorkerRecord is the heartbeat record a worker writes under its
// worker:<name> key (spec §4.F "Heartbeat / health").
type WorkerRecord struct {
	WorkerName string   `json:"worker_name"`
	QueueName  string   `json:"queue_name"`
	Functions  []string `json:"functions"`
	StartedAt  int64    `json:"started_at"`
	Active     bool     `json:"active"`
}

// FuncRecord describes one registered function or cron entry, as exposed
// through introspection's GetJobFuncs (spec §4.G).
type FuncRecord struct {
	Name         string `json:"name"`
	IsCron       bool   `json:"is_cron"`
	RegisteredAt int64  `json:"registered_at"`
}

func EncodeWorkerRecord(r *WorkerRecord) ([]byte, error) {
	return DefaultSerializer(r)
}

func DecodeWorkerRecord(data []byte) (*WorkerRecord, error) {
	var r WorkerRecord
	if err := DefaultDeserializer(data, &r); err != nil {
		return nil, fmt.Errorf("codec: malformed worker record: %w", err)
	}
	return &r, nil
}

func EncodeFuncRecords(recs []FuncRecord) ([]byte, error) {
	return DefaultSerializer(recs)
}

func DecodeFuncRecords(data []byte) ([]FuncRecord, error) {
	var recs []FuncRecord
	if err := DefaultDeserializer(data, &recs); err != nil {
		return nil, fmt.Errorf("codec: malformed function registry: %w", err)
	}
	return recs, nil
}
