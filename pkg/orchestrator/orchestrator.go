// Package orchestrator drives the plan, code, execute, review, report
// pipeline for analysis requests. Each run executes on its own goroutine
// against an exclusive interpreter session while the UI observes progress
// through a non-blocking poll API. Sessions are fully isolated from each
// other; at most one run is alive per session at a time.
package orchestrator

import (
	"os"
	"time"

	"github.com/nebelbild/data-analysis/pkg/domain"
	"github.com/nebelbild/data-analysis/pkg/generate"
	"github.com/nebelbild/data-analysis/pkg/model"
	"github.com/nebelbild/data-analysis/pkg/sandbox"
	"github.com/nebelbild/data-analysis/pkg/store"
)

// Config carries the orchestrator's tunables. Zero values are filled with
// defaults by New.
type Config struct {
	PlanModel   string
	CodeModel   string
	ReviewModel string
	ReportModel string

	// AllowedDirs are the directories data files may be selected from.
	AllowedDirs []string
	// TempRoot is where temporary uploads are accepted from. Defaults to
	// the OS temp directory.
	TempRoot string
	// OutputRoot is the parent directory for per-run output directories.
	OutputRoot string

	// ExecTimeout bounds one sandbox execution. Generated analysis code can
	// legitimately run for a long time, hence the large default.
	ExecTimeout time.Duration
	// CreateTimeout bounds sandbox session startup.
	CreateTimeout time.Duration

	// ContextWindow is how many preceding executions are fed back into each
	// code-generation call for self-correction.
	ContextWindow int

	// GraceDelay is how long a finished worker keeps its alive marker so an
	// immediately-following poll sees consistent state.
	GraceDelay time.Duration
	// TeardownWait bounds how long Teardown waits for a live run.
	TeardownWait time.Duration
}

func (c *Config) applyDefaults() {
	if c.TempRoot == "" {
		c.TempRoot = os.TempDir()
	}
	if c.OutputRoot == "" {
		c.OutputRoot = "output"
	}
	if c.ExecTimeout == 0 {
		c.ExecTimeout = 30 * time.Minute
	}
	if c.CreateTimeout == 0 {
		c.CreateTimeout = 2 * time.Minute
	}
	if c.ContextWindow == 0 {
		c.ContextWindow = 1
	}
	if c.GraceDelay == 0 {
		c.GraceDelay = 100 * time.Millisecond
	}
	if c.TeardownWait == 0 {
		c.TeardownWait = time.Second
	}
}

// CancelOutcome classifies the result of a cancel request.
type CancelOutcome string

const (
	// CancelBlocked means a run is alive and cannot be interrupted. Running
	// code cannot be preempted mid-execution, so this is the answer for any
	// live run.
	CancelBlocked CancelOutcome = "cannot-cancel-in-progress"
	// CancelNothing means no run was alive; cancel was a no-op.
	CancelNothing CancelOutcome = "nothing-to-cancel"
)

// CancelResult is the tri-state answer to a cancel request.
type CancelResult struct {
	Success bool          `json:"success"`
	Outcome CancelOutcome `json:"outcome"`
	Message string        `json:"message"`
}

// Orchestrator coordinates analysis runs across independent sessions.
type Orchestrator struct {
	gateway model.Gateway
	factory sandbox.Factory
	runs    store.RunStore
	cfg     Config

	planner  *generate.PlanGenerator
	coder    *generate.CodeGenerator
	reviewer *generate.ReviewGenerator
	reporter *generate.ReportGenerator

	registry *registry
}

// New wires an orchestrator from its collaborators.
func New(gateway model.Gateway, factory sandbox.Factory, runs store.RunStore, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		gateway:  gateway,
		factory:  factory,
		runs:     runs,
		cfg:      cfg,
		planner:  generate.NewPlanGenerator(gateway, cfg.PlanModel),
		coder:    generate.NewCodeGenerator(gateway, cfg.CodeModel),
		reviewer: generate.NewReviewGenerator(gateway, cfg.ReviewModel),
		reporter: generate.NewReportGenerator(gateway, cfg.ReportModel),
		registry: newRegistry(),
	}
}

// Start launches an analysis run for the session and returns immediately.
// It answers "STARTED", or an "ERROR: ..." string when a run is already
// alive for the session. Accepting a run replaces the session's status
// queue and clears its previous terminal result.
func (o *Orchestrator) Start(request, sessionID, filePath string, temporary bool) string {
	h, err := o.registry.begin(sessionID)
	if err != nil {
		return "ERROR: " + err.Error()
	}
	go o.run(h, request, filePath, temporary)
	return "STARTED"
}

// Poll reports the session's current status without blocking: the next
// queued message if one is waiting, else running while a worker is alive,
// else the last terminal result, else idle.
func (o *Orchestrator) Poll(sessionID string) domain.StatusMessage {
	return o.registry.poll(sessionID)
}

// Cancel is best-effort only. A live run cannot be preempted, so the answer
// while one is alive is always unsuccessful with an explanation; with
// nothing running it is a successful no-op.
func (o *Orchestrator) Cancel(sessionID string) CancelResult {
	if o.registry.aliveJob(sessionID) != nil {
		return CancelResult{
			Success: false,
			Outcome: CancelBlocked,
			Message: "analysis is running and cannot be interrupted; it will finish on its own",
		}
	}
	return CancelResult{
		Success: true,
		Outcome: CancelNothing,
		Message: "no analysis is running",
	}
}

// Teardown removes the session's state. When a run is still alive it waits
// briefly; if the run does not finish in time the state is kept, since a
// live worker still writes to the session's queue, and the caller must
// retry later. Returns whether the state was removed. Tearing down an
// already-clean session is a no-op that reports success.
func (o *Orchestrator) Teardown(sessionID string) bool {
	j := o.registry.aliveJob(sessionID)
	if j != nil && !j.waitDone(o.cfg.TeardownWait) {
		return false
	}
	o.registry.remove(sessionID)
	return true
}
