// Package sandbox defines the code-execution capability the pipeline runs
// generated code against: a stateful, single-threaded interpreter session
// with a request/response protocol, plus the adapter that normalizes raw
// interpreter output into domain records.
package sandbox

import (
	"context"
	"time"
)

// DataDir is where uploaded files appear in a session's filesystem view.
// Code generated for a run reads its dataset from here.
const DataDir = "/data"

// RawResult is one display payload emitted by the interpreter. Kind is the
// interpreter's own classification ("png" for figures, "raw" for plain-text
// reprs); anything else is unclassifiable and gets dropped by the adapter.
type RawResult struct {
	Kind    string
	Content string
}

// RawError is the interpreter's error block for a failed execution.
type RawError struct {
	Name      string
	Value     string
	Traceback string
}

// ExecResult is the synchronous result assembled from the interpreter's
// asynchronous message stream for one execution.
type ExecResult struct {
	Stdout         []string
	Stderr         []string
	Results        []RawResult
	Err            *RawError
	ExecutionCount int
}

// Session is one live interpreter context. Variables persist across Execute
// calls. A session is exclusive to one run and must be killed when the run
// ends; leaking an unkilled session is a resource fault.
type Session interface {
	// ID identifies the session for logging.
	ID() string

	// Execute submits code and blocks until the interpreter goes idle or the
	// timeout elapses. On timeout the partial output collected so far is
	// returned along with the error.
	Execute(ctx context.Context, code string, timeout time.Duration) (*ExecResult, error)

	// Upload stages a file into the interpreter's filesystem view.
	Upload(ctx context.Context, path string, content []byte) error

	// Kill stops the interpreter and releases all resources. Safe to call
	// multiple times and from error paths.
	Kill()
}

// Factory creates a fresh interpreter session. One exclusive session is
// created per run; sessions are never shared across runs.
type Factory interface {
	// Create starts an interpreter and blocks until its initialization
	// (library imports, helper definitions) has fully completed. Callers
	// must never execute user code against a partially initialized session.
	Create(ctx context.Context, timeout time.Duration) (Session, error)
}
