package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"pdf-audiobook/internal/domain"
)

// ErrJobAlreadyRunning is returned when starting a second active job.
var ErrJobAlreadyRunning = errors.New("job already running")

// ErrNoRunningJob is returned when cancel is requested for idle state.
var ErrNoRunningJob = errors.New("no running job")

// Manager tracks the single allowed active job and its transitions.
// Stage order is strictly forward; cancellation is reachable from every
// non-terminal state and terminal states only change via a new Start.
type Manager struct {
	mu      sync.RWMutex
	now     func() time.Time
	current domain.Job
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		now: time.Now,
		current: domain.Job{
			Status: domain.JobStatusIdle,
		},
	}
}

// Start registers a new pending job, rejecting concurrent starts.
func (m *Manager) Start(jobID, inputPath, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isRunning(m.current.Status) {
		return ErrJobAlreadyRunning
	}

	m.current = domain.Job{
		ID:          jobID,
		InputPath:   inputPath,
		Fingerprint: fingerprint,
		Status:      domain.JobStatusPending,
		StartedAt:   m.now().UTC(),
	}
	return nil
}

// Transition validates and applies state transitions for current job.
func (m *Manager) Transition(status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" && status != domain.JobStatusIdle {
		return fmt.Errorf("cannot transition without an active job")
	}
	if status == m.current.Status {
		return nil
	}
	if !isValidTransition(m.current.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, status)
	}

	m.current.Status = status
	return nil
}

// SetFingerprint records the document hash once it is computed.
func (m *Manager) SetFingerprint(fingerprint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Fingerprint = fingerprint
}

// SetProgress replaces the progress counters for the current job.
func (m *Manager) SetProgress(p domain.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Progress = p
}

// AddError appends one recoverable per-unit failure to the job record.
func (m *Manager) AddError(e domain.UnitError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Errors = append(m.current.Errors, e)
}

// Current returns a snapshot of the current job. The error slice is
// copied so callers never observe in-place appends.
func (m *Manager) Current() domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := m.current
	if len(m.current.Errors) > 0 {
		snapshot.Errors = append([]domain.UnitError(nil), m.current.Errors...)
	}
	return snapshot
}

// Reset clears job metadata and returns manager to idle.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = domain.Job{Status: domain.JobStatusIdle}
}

// IsRunning reports whether the current state is an active stage.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isRunning(m.current.Status)
}

// Cancel moves an active job to cancelled state.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isRunning(m.current.Status) {
		return ErrNoRunningJob
	}
	m.current.Status = domain.JobStatusCancelled
	return nil
}

// isRunning checks if a status represents active pipeline execution.
func isRunning(status domain.JobStatus) bool {
	switch status {
	case domain.JobStatusPending, domain.JobStatusExtracting,
		domain.JobStatusChunking, domain.JobStatusSynthesizing:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed job state machine edges.
// Failure is only reachable where the pipeline can actually fail: the
// pending size check, extraction, and synthesis. Chunking operates on
// bounds validated at startup and cannot fail on its own.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusIdle:
		return to == domain.JobStatusPending
	case domain.JobStatusPending:
		return to == domain.JobStatusExtracting || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusExtracting:
		return to == domain.JobStatusChunking || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusChunking:
		return to == domain.JobStatusSynthesizing || to == domain.JobStatusCancelled
	case domain.JobStatusSynthesizing:
		return to == domain.JobStatusReady || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case domain.JobStatusReady, domain.JobStatusFailed, domain.JobStatusCancelled:
		return to == domain.JobStatusPending || to == domain.JobStatusIdle
	default:
		return false
	}
}
