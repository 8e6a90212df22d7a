package client

import (
	"fmt"
	"time"
)

// Error codes surfaced to callers.
const (
	CodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	CodeAnalysisFailed         = "ANALYSIS_FAILED"
	CodeAnalysisTimeout        = "ANALYSIS_TIMEOUT"
)

// AuthenticationRequiredError means the API rejected the caller's credentials.
type AuthenticationRequiredError struct {
	StatusCode int
}

func (e *AuthenticationRequiredError) Error() string {
	return fmt.Sprintf("authentication required (HTTP %d)", e.StatusCode)
}

// Code returns AUTHENTICATION_REQUIRED.
func (e *AuthenticationRequiredError) Code() string { return CodeAuthenticationRequired }

// AnalysisFailedError means the server recorded the job as FAILED.
type AnalysisFailedError struct {
	JobID   string
	Message string
}

func (e *AnalysisFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("analysis %s failed", e.JobID)
	}
	return fmt.Sprintf("analysis %s failed: %s", e.JobID, e.Message)
}

// Code returns ANALYSIS_FAILED.
func (e *AnalysisFailedError) Code() string { return CodeAnalysisFailed }

// AnalysisTimeoutError means polling ran out of attempts.
type AnalysisTimeoutError struct {
	JobID      string
	Attempts   int
	Elapsed    time.Duration
	LastStatus string
}

func (e *AnalysisTimeoutError) Error() string {
	return fmt.Sprintf("analysis %s did not finish after %d attempts (%s elapsed, last status %q)",
		e.JobID, e.Attempts, e.Elapsed.Round(time.Millisecond), e.LastStatus)
}

// Code returns ANALYSIS_TIMEOUT.
func (e *AnalysisTimeoutError) Code() string { return CodeAnalysisTimeout }

// HTTPError is an unexpected non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected HTTP %d: %s", e.StatusCode, e.Body)
}
