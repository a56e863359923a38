package domain

import (
	"errors"
	"fmt"
)

// Stage identifies the step of an import run that failed.
type Stage string

const (
	StageLock        Stage = "lock"
	StageFetch       Stage = "fetch"
	StageParse       Stage = "parse"
	StageDeduplicate Stage = "deduplicate"
	StageConsolidate Stage = "consolidate"
	StagePersist     Stage = "persist"
)

var (
	// ErrMalformedRecord marks a single upstream item that could not be parsed.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrStoreUnavailable is returned when the processed-id lookup fails or times out.
	ErrStoreUnavailable = errors.New("processed id store unavailable")

	// ErrEmptyPayload signals the upstream "no data" sentinel. It is not a run failure.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrRunInProgress is returned when a run is requested while another one is in flight.
	ErrRunInProgress = errors.New("import run already in progress")
)

// PipelineError reports an aborted run together with the stage that failed.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline aborted at %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Abort wraps err as a PipelineError for the given stage. A nil err stays nil.
func Abort(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return err
	}
	return &PipelineError{Stage: stage, Err: err}
}

// StageOf returns the failing stage carried by err, if any.
func StageOf(err error) (Stage, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage, true
	}
	return "", false
}

// RecordError describes why one upstream item was rejected. It matches ErrMalformedRecord.
type RecordError struct {
	Index  int
	Field  string
	Reason string
}

func (e *RecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("item %d: %s: %s", e.Index, ErrMalformedRecord, e.Reason)
	}
	return fmt.Sprintf("item %d: %s: %s %s", e.Index, ErrMalformedRecord, e.Field, e.Reason)
}

func (e *RecordError) Unwrap() error { return ErrMalformedRecord }
