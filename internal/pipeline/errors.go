package pipeline

import (
	"errors"
	"fmt"
)

// Code classifies a stage failure.
type Code string

// Stage error codes.
const (
	CodeNoFrames            Code = "NO_FRAMES"
	CodeFrameFetchExhausted Code = "FRAME_FETCH_EXHAUSTED"
	CodeTransport           Code = "INFERENCE_TRANSPORT_ERROR"
	CodeEmptyResponse       Code = "INFERENCE_EMPTY_RESPONSE"
	CodeMalformedResponse   Code = "INFERENCE_MALFORMED_RESPONSE"
	CodeAlreadyProcessing   Code = "ALREADY_PROCESSING"
	CodeAlreadyCompleted    Code = "ALREADY_COMPLETED"
	CodeAlreadyFailed       Code = "ALREADY_FAILED"
	CodeFramesNotReady      Code = "FRAMES_NOT_READY"
	CodeRecordNotFound      Code = "RECORD_NOT_FOUND"
	CodeExtractionFailed    Code = "EXTRACTION_FAILED"
	CodeDispatchFailed      Code = "DISPATCH_FAILED"
	CodeStoreUnavailable    Code = "STORE_UNAVAILABLE"
	CodeMalformedTrigger    Code = "MALFORMED_TRIGGER"
)

// StageError is returned by a stage that could not finish its work.
type StageError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether redelivering the trigger may succeed.
func (e *StageError) Retryable() bool {
	switch e.Code {
	case CodeFramesNotReady, CodeStoreUnavailable:
		return true
	default:
		return false
	}
}

func stageErr(code Code, msg string, cause error) *StageError {
	return &StageError{Code: code, Message: msg, Cause: cause}
}

// CodeOf returns the code carried by err, or "" when err is not a StageError.
func CodeOf(err error) Code {
	var se *StageError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
