package model

import (
	"errors"
	"sort"
	"strings"
)

// UploadReceivedEvent is the inbound notification that a new source video was uploaded.
type UploadReceivedEvent struct {
	VideoID       string `json:"video_id"`
	TenantID      string `json:"tenant_id"`
	InputLocation string `json:"input_location"`
}

// Validate validates the inbound event payload.
func (e *UploadReceivedEvent) Validate() error {
	req := CreateJobRequest{TenantID: e.TenantID, VideoID: e.VideoID, InputLocation: e.InputLocation}
	return req.Validate()
}

// TranscodedEvent is the outbound notification published once a job completed.
//
// OutputSummary maps profile name to the output object path. JobID doubles as
// the dedup key for downstream consumers on the at-least-once transport.
type TranscodedEvent struct {
	VideoID          string            `json:"video_id"`
	JobID            string            `json:"job_id"`
	TenantID         string            `json:"tenant_id"`
	ManifestLocation string            `json:"manifest_location"`
	Success          bool              `json:"success"`
	OutputSummary    map[string]string `json:"output_summary"`
}

// ProcessingFailedEvent is an externally reported failure for a video that may
// have a job in flight.
type ProcessingFailedEvent struct {
	VideoID        string            `json:"video_id"`
	TenantID       string            `json:"tenant_id"`
	ErrorMessage   string            `json:"error_message"`
	ExceptionType  string            `json:"exception_type"`
	DiagnosticInfo map[string]string `json:"diagnostic_info,omitempty"`
}

// Validate validates the failure event payload.
func (e *ProcessingFailedEvent) Validate() error {
	if err := (JobKey{TenantID: e.TenantID, VideoID: e.VideoID}).Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.ErrorMessage) == "" {
		return errors.New("error message is required")
	}
	return nil
}

// ComposeFailureDetail renders the failure event into the error message stored
// on the job row.
func (e *ProcessingFailedEvent) ComposeFailureDetail() string {
	var b strings.Builder
	if e.ExceptionType != "" {
		b.WriteString(e.ExceptionType)
		b.WriteString(": ")
	}
	b.WriteString(e.ErrorMessage)
	if len(e.DiagnosticInfo) > 0 {
		keys := make([]string, 0, len(e.DiagnosticInfo))
		for k := range e.DiagnosticInfo {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(e.DiagnosticInfo[k])
		}
		b.WriteString(")")
	}
	return b.String()
}
