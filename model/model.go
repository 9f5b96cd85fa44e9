package model

import (
	"time"

	"texengine/internal"

	"github.com/google/uuid"
)

// Kind tags why a compilation did not succeed, or what an advisory is about.
type Kind string

const (
	KindInputTooLarge        Kind = "input_too_large"
	KindSpawnFailed          Kind = "spawn_failed"
	KindTimedOut             Kind = "timed_out"
	KindHardCompileFailure   Kind = "hard_compile_failure"
	KindNoOutputProduced     Kind = "no_output_produced"
	KindBibliographyDegraded Kind = "bibliography_degraded"
	KindInternalIOFailure    Kind = "internal_io_failure"
	KindCompilerWarnings     Kind = "compiler_warnings"

	// Queue outcomes for requests that never reached the pipeline.
	KindSuperseded  Kind = "superseded"
	KindQueueClosed Kind = "queue_closed"
)

// CompileRequest is an immutable snapshot of a document handed to the queue.
type CompileRequest struct {
	ID          string
	Document    string
	SourceDir   string // hint only, never used as a working directory
	SubmittedAt time.Time
}

func NewCompileRequest(document, sourceDir string) CompileRequest {
	return CompileRequest{
		ID:          uuid.NewString(),
		Document:    document,
		SourceDir:   sourceDir,
		SubmittedAt: time.Now(),
	}
}

// Page is one rendered page image outside the working area.
type Page struct {
	Index int
	Path  string
}

// Advisory is a non-fatal note attached to a result.
type Advisory struct {
	Kind    Kind
	Message string
}

// CompileResult is delivered once per accepted submission.
type CompileResult struct {
	RequestID  string
	Success    bool
	Pages      []Page
	Kind       Kind   // set when Success is false
	Diagnostic string // path-sanitized plain text
	Advisories []Advisory
	Passes     int
	Duration   time.Duration
}

// EscapedDiagnostic returns the diagnostic safe to embed in markup.
func (r CompileResult) EscapedDiagnostic() string {
	return internal.EscapeMarkup(r.Diagnostic)
}

// HasAdvisory reports whether an advisory of the given kind was attached.
func (r CompileResult) HasAdvisory(kind Kind) bool {
	for _, a := range r.Advisories {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

// CompileMessage is the JSON body of a render request on the wire.
type CompileMessage struct {
	Document  string `json:"document"`
	SourceDir string `json:"source_dir,omitempty"`
}

// PageData carries one page's bytes back to the requester.
type PageData struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Data  []byte `json:"data"`
}

// AdvisoryData is the wire form of an Advisory.
type AdvisoryData struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// CompileResponse represents the response structure for a render request
type CompileResponse struct {
	RequestID     string         `json:"request_id"`
	Success       bool           `json:"success"`
	StatusMessage string         `json:"status_message"`
	Kind          Kind           `json:"kind,omitempty"`
	Error         string         `json:"error,omitempty"`
	Pages         []PageData     `json:"pages,omitempty"`
	Advisories    []AdvisoryData `json:"advisories,omitempty"`
	Passes        int            `json:"passes,omitempty"`
	ExecutionTime string         `json:"execution_time,omitempty"`
}
