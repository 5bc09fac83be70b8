package domain

import (
	"strings"
	"time"
)

// Task is a single planned analysis step.
type Task struct {
	Hypothesis string `json:"hypothesis"`
	Purpose    string `json:"purpose"`
	// Description is the suggested analysis approach.
	Description string `json:"description"`
	// ChartType is the suggested visualization ("bar", "scatter", "auto", ...).
	ChartType string `json:"chart_type"`
}

// Plan is the ordered list of tasks produced once per run. Immutable after
// creation.
type Plan struct {
	Tasks []Task `json:"tasks"`
}

// Program is the output of one code-generation call.
type Program struct {
	// Code is the executable code for the task.
	Code string `json:"code"`
	// Outline describes, in prose, what the code does.
	Outline string `json:"outline"`
	// SuccessCriteria states what a successful execution should show.
	SuccessCriteria string `json:"success_criteria"`
}

// Review is the verdict on an execution, produced by the review generator.
type Review struct {
	Observation string `json:"observation"`
	IsCompleted bool   `json:"is_completed"`
}

// ResultKind distinguishes the two payload shapes an execution can yield.
type ResultKind string

const (
	ResultImage ResultKind = "image"
	ResultText  ResultKind = "text"
)

// Result is one entry of an execution's output. Data holds base64-encoded PNG
// bytes for images and plain text otherwise.
type Result struct {
	Type ResultKind `json:"type"`
	Data string     `json:"data"`
}

// DataThread is the normalized record of one code execution: the exact code
// that ran, everything the interpreter emitted, and any artifacts persisted
// from it. Created by the execution adapter, later enriched with the review
// observation. Never mutated concurrently.
type DataThread struct {
	// ID is the interpreter's execution counter for this cell.
	ID          int    `json:"id"`
	ProcessID   string `json:"process_id"`
	ThreadID    int    `json:"thread_id"`
	UserRequest string `json:"user_request,omitempty"`
	Code        string `json:"code"`
	Stdout      string `json:"stdout,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
	// Error is the traceback when execution failed, empty otherwise.
	Error   string   `json:"error,omitempty"`
	Results []Result `json:"results,omitempty"`
	// Observation is the review verdict, attached after the review step.
	Observation string `json:"observation,omitempty"`
	// SavedPaths groups persisted artifact paths by kind, e.g. "images".
	SavedPaths map[string][]string `json:"saved_paths,omitempty"`
}

// Failed reports whether this execution counts as an error for the purpose of
// triggering the built-in fallback analysis: a recorded traceback, or
// error-shaped stderr.
func (t *DataThread) Failed() bool {
	if t.Error != "" {
		return true
	}
	return strings.Contains(t.Stderr, "Error") || strings.Contains(t.Stderr, "Traceback")
}

// Status values carried by StatusMessage.
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusProgress  = "progress"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// RunResult is the terminal payload of a completed run.
type RunResult struct {
	Plan *Plan `json:"plan,omitempty"`
	// Execution is the final task's thread, kept for UIs that render one.
	Execution  *DataThread  `json:"execution,omitempty"`
	Executions []DataThread `json:"executions,omitempty"`
	Report     *ReportRef   `json:"report,omitempty"`
}

// ReportRef points at a rendered report on disk.
type ReportRef struct {
	Markdown  string `json:"markdown,omitempty"`
	HTMLPath  string `json:"html_path,omitempty"`
	OutputDir string `json:"output_dir,omitempty"`
}

// StatusMessage is the tagged record the UI poller consumes. Fields beyond
// Status are populated according to the status value.
type StatusMessage struct {
	Status    string     `json:"status"`
	Step      int        `json:"step,omitempty"`
	Total     int        `json:"total,omitempty"`
	Message   string     `json:"message,omitempty"`
	Result    *RunResult `json:"result,omitempty"`
	OutputDir string     `json:"output_dir,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Terminal reports whether no further messages will follow this one.
func (m StatusMessage) Terminal() bool {
	return m.Status == StatusCompleted || m.Status == StatusError
}

// Run is the persisted record of one pipeline execution.
type Run struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Request   string    `json:"request"`
	FilePath  string    `json:"file_path,omitempty"`
	OutputDir string    `json:"output_dir"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Model represents an available LLM model.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}
