package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/nebelbild/data-analysis/pkg/domain"
)

// queueSize bounds the per-run status queue. A run emits a handful of
// progress messages plus a few terminal copies, so this is generous.
const queueSize = 64

// job marks one live background run. done is closed when the worker exits.
type job struct {
	done chan struct{}
}

func (j *job) alive() bool {
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

// session is the per-session record: current job, current status queue,
// last terminal snapshot, and the monotonic thread counter.
type session struct {
	job        *job
	queue      chan domain.StatusMessage
	lastStatus *domain.StatusMessage
	counter    int
}

// runHandle is what a worker holds for the lifetime of one run. Its queue
// pointer identifies the run's generation: if the session has since been
// restarted, writes through a stale handle are dropped.
type runHandle struct {
	sessionID string
	threadID  int
	job       *job
	queue     chan domain.StatusMessage
}

// registry owns all cross-goroutine session state. Every mutation happens
// under one coarse lock; sessions are independent so contention is
// negligible.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*session)}
}

func (r *registry) get(sessionID string) *session {
	s, ok := r.sessions[sessionID]
	if !ok {
		s = &session{}
		r.sessions[sessionID] = s
	}
	return s
}

// begin registers a new run for the session. It fails while a previous run
// is still alive. On success the status queue is replaced wholesale and the
// previous terminal result is cleared, so nothing from an older run can leak
// into the new status stream.
func (r *registry) begin(sessionID string) (*runHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.get(sessionID)
	if s.job != nil && s.job.alive() {
		return nil, fmt.Errorf("an analysis is already running for this session")
	}

	s.job = &job{done: make(chan struct{})}
	s.queue = make(chan domain.StatusMessage, queueSize)
	s.lastStatus = nil
	s.counter++

	return &runHandle{
		sessionID: sessionID,
		threadID:  s.counter,
		job:       s.job,
		queue:     s.queue,
	}, nil
}

// push queues a status message for the handle's run. A handle whose queue
// has been replaced by a newer run writes nowhere. Terminal messages also
// update the session's last-result snapshot so a poller that misses every
// queued copy still sees the outcome.
func (r *registry) push(h *runHandle, msg domain.StatusMessage) bool {
	r.mu.Lock()
	s, ok := r.sessions[h.sessionID]
	if !ok || s.queue != h.queue {
		r.mu.Unlock()
		return false
	}
	if msg.Terminal() {
		snapshot := msg
		s.lastStatus = &snapshot
	}
	r.mu.Unlock()

	select {
	case h.queue <- msg:
		return true
	default:
		// Full queue means the poller went away. Dropping is safe because
		// terminal state is kept in lastStatus.
		return false
	}
}

// poll returns the next status for the session without blocking: one queued
// message if present, else running while the worker is alive, else the last
// terminal snapshot, else idle.
func (r *registry) poll(sessionID string) domain.StatusMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.StatusMessage{Status: domain.StatusIdle}
	}
	// Drain under the lock: a Start racing this poll replaces the queue, and
	// a message from the superseded queue must never reach the poller.
	if s.queue != nil {
		select {
		case msg := <-s.queue:
			return msg
		default:
		}
	}
	if s.job != nil && s.job.alive() {
		return domain.StatusMessage{Status: domain.StatusRunning}
	}
	if s.lastStatus != nil {
		return *s.lastStatus
	}
	return domain.StatusMessage{Status: domain.StatusIdle}
}

// release clears the session's job marker, but only if the handle's job is
// still the current one.
func (r *registry) release(h *runHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[h.sessionID]; ok && s.job == h.job {
		s.job = nil
	}
}

// aliveJob returns the session's live job, or nil.
func (r *registry) aliveJob(sessionID string) *job {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.job == nil || !s.job.alive() {
		return nil
	}
	return s.job
}

// remove deletes the session record. The caller must have established that
// no live worker can still write to the session's queue.
func (r *registry) remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// waitDone waits up to timeout for the job's worker to exit.
func (j *job) waitDone(timeout time.Duration) bool {
	select {
	case <-j.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
