// Package admission arbitrates the process-wide concurrency ceiling for
// long-running agent executions.
package admission

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/foremanlabs/crewdesk/internal/domain"
)

var (
	// ErrUserLimit means the user is already at their concurrent
	// execution allowance.
	ErrUserLimit = errors.New("user execution allowance reached")
	// ErrCeiling means every global execution slot is in use.
	ErrCeiling = errors.New("execution ceiling reached")
)

const (
	// sweepSafetyMultiplier pads the caller-supplied duration estimate
	// before the sweeper declares an execution stuck. Estimates are
	// optimistic; a 3x margin keeps slow-but-alive executions running.
	sweepSafetyMultiplier = 3
	// minSweepDeadline is the floor on the padded deadline so that tiny
	// estimates do not get swept almost immediately.
	minSweepDeadline = 30 * time.Second
)

// Controller enforces the global execution ceiling. The ceiling is
// process-wide, not per-user: it exists to bound load on the downstream
// agent backend regardless of how many users are active.
//
// TryAdmit never blocks and never queues. A rejected caller retries
// explicitly.
type Controller struct {
	mu      sync.Mutex
	slots   *semaphore.Weighted
	ceiling int
	running map[string]*domain.ExecutionSession
}

// NewController creates a controller with the given concurrency ceiling.
func NewController(ceiling int) *Controller {
	if ceiling < 0 {
		ceiling = 0
	}
	return &Controller{
		slots:   semaphore.NewWeighted(int64(ceiling)),
		ceiling: ceiling,
		running: make(map[string]*domain.ExecutionSession),
	}
}

// Ceiling returns the configured global ceiling.
func (c *Controller) Ceiling() int {
	return c.ceiling
}

// TryAdmit atomically checks the user's allowance and the global ceiling
// and, if both pass, records a Running execution and returns its session.
// The counting, the semaphore acquire, and the insert all happen under one
// lock, so two racing calls from the same user cannot both slip under the
// allowance. On error nothing was mutated.
func (c *Controller) TryAdmit(userID string, agentID domain.AgentID, estimate time.Duration, userLimit int) (*domain.ExecutionSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inFlight := 0
	for _, session := range c.running {
		if session.UserID == userID {
			inFlight++
		}
	}
	if inFlight >= userLimit {
		return nil, ErrUserLimit
	}
	if !c.slots.TryAcquire(1) {
		return nil, ErrCeiling
	}

	session := domain.NewExecutionSession(userID, agentID, estimate)
	c.running[session.ID] = session

	slog.Info("Execution admitted",
		"execution_id", session.ID,
		"user_id", userID,
		"agent_id", agentID,
		"estimated_duration", estimate)
	return session, nil
}

// Release transitions an execution to a terminal state and frees its slot.
// The first caller's status wins; releasing an already-released or unknown
// id is a no-op, so duplicate completion signals, user cancellation, and
// the timeout sweeper can all race safely.
func (c *Controller) Release(executionID string, status domain.ExecutionStatus) {
	c.release(executionID, status, "")
}

// ReleaseOwned releases an execution only when it belongs to userID. A
// mismatched owner is treated exactly like an unknown id, so one user
// cannot cancel another's execution by guessing its id.
func (c *Controller) ReleaseOwned(userID, executionID string, status domain.ExecutionStatus) {
	c.release(executionID, status, userID)
}

func (c *Controller) release(executionID string, status domain.ExecutionStatus, owner string) {
	if !status.Terminal() {
		status = domain.ExecutionFailed
	}

	c.mu.Lock()
	session, ok := c.running[executionID]
	if ok && owner != "" && session.UserID != owner {
		c.mu.Unlock()
		slog.Warn("Release for execution owned by another user ignored",
			"execution_id", executionID, "user_id", owner)
		return
	}
	if ok {
		delete(c.running, executionID)
		session.Status = status
	}
	c.mu.Unlock()

	if !ok {
		slog.Debug("Release for unknown execution ignored", "execution_id", executionID, "status", status)
		return
	}

	c.slots.Release(1)
	slog.Info("Execution released",
		"execution_id", executionID,
		"user_id", session.UserID,
		"agent_id", session.AgentID,
		"status", status,
		"elapsed", time.Since(session.StartedAt))
}

// Sweep force-releases Running executions whose padded deadline has
// passed, marking them TimedOut. Returns the ids that were swept. This is
// the only protection against a backend that hangs or dies without
// signaling completion; without it a stuck execution holds a scarce global
// slot forever.
func (c *Controller) Sweep(now time.Time) []string {
	c.mu.Lock()
	var expired []string
	for id, session := range c.running {
		deadline := session.EstimatedDuration * sweepSafetyMultiplier
		if deadline < minSweepDeadline {
			deadline = minSweepDeadline
		}
		if now.After(session.StartedAt.Add(deadline)) {
			expired = append(expired, id)
		}
	}
	c.mu.Unlock()

	for _, id := range expired {
		slog.Warn("Execution exceeded padded deadline, forcing timeout", "execution_id", id)
		c.Release(id, domain.ExecutionTimedOut)
	}
	return expired
}

// Running returns how many executions currently hold a slot.
func (c *Controller) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running)
}

// RunningFor returns how many executions the user currently has in flight.
func (c *Controller) RunningFor(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, session := range c.running {
		if session.UserID == userID {
			n++
		}
	}
	return n
}

// ExecutionsFor returns copies of the user's running executions.
func (c *Controller) ExecutionsFor(userID string) []*domain.ExecutionSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*domain.ExecutionSession
	for _, session := range c.running {
		if session.UserID == userID {
			cp := *session
			out = append(out, &cp)
		}
	}
	return out
}

// ReleaseUser cancels every running execution owned by the user, for
// logout teardown.
func (c *Controller) ReleaseUser(userID string) {
	c.mu.Lock()
	var ids []string
	for id, session := range c.running {
		if session.UserID == userID {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Release(id, domain.ExecutionCancelled)
	}
}
