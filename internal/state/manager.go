package state

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/loom/internal/metrics"
	"github.com/watzon/loom/internal/workflow"
)

// Manager sits between the executor and the store: it records run
// progress durably and owns the pause/resume/recovery lifecycle. It
// implements workflow.Recorder.
type Manager struct {
	store *Store

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	paused map[string]bool
}

// NewManager creates a state manager on top of the given store.
func NewManager(store *Store) *Manager {
	return &Manager{
		store:  store,
		locks:  make(map[string]*sync.Mutex),
		paused: make(map[string]bool),
	}
}

// Store exposes the underlying store for read-only inspection.
func (m *Manager) Store() *Store {
	return m.store
}

// lock returns the per-execution mutex, creating it on first use.
// Updates to one execution serialize; different executions do not.
func (m *Manager) lock(executionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[executionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[executionID] = l
	}
	return l
}

func (m *Manager) release(executionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, executionID)
	delete(m.paused, executionID)
}

// Begin registers a new run in the running state.
func (m *Manager) Begin(ctx context.Context, executionID string, info workflow.RunInfo) error {
	now := time.Now().UTC()
	exec := &ExecutionState{
		ID:         executionID,
		TemplateID: info.TemplateID,
		ScheduleID: info.ScheduleID,
		Status:     workflow.StatusRunning,
		TotalNodes: info.TotalNodes,
		Variables:  info.Variables,
		StartedAt:  now,
		UpdatedAt:  now,
	}

	if err := m.store.CreateExecution(ctx, exec); err != nil {
		return fmt.Errorf("registering execution %s: %w", executionID, err)
	}

	log.Debug().
		Str("execution_id", executionID).
		Str("template_id", info.TemplateID).
		Int("total_nodes", info.TotalNodes).
		Msg("Execution registered")

	return nil
}

// UpdateNode folds one node transition into the execution record.
func (m *Manager) UpdateNode(ctx context.Context, executionID string, res workflow.NodeResult) error {
	l := m.lock(executionID)
	l.Lock()
	defer l.Unlock()

	exec, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	ns := NodeState{
		NodeID:   res.NodeID,
		Status:   res.Status,
		Output:   res.Output,
		Error:    res.Error,
		Attempts: res.Attempts,
		Duration: res.Duration,
	}
	if existing := exec.nodeState(res.NodeID); existing != nil {
		*existing = ns
	} else {
		exec.NodeStates = append(exec.NodeStates, ns)
	}

	exec.CompletedNodes = nodesWithStatus(exec.NodeStates, workflow.NodeCompleted)
	exec.FailedNodes = nodesWithStatus(exec.NodeStates, workflow.NodeFailed)
	exec.SkippedNodes = nodesWithStatus(exec.NodeStates, workflow.NodeSkipped)
	exec.CurrentNodeIndex = len(exec.CompletedNodes) + len(exec.FailedNodes) + len(exec.SkippedNodes)
	exec.UpdatedAt = time.Now().UTC()

	switch res.Status {
	case workflow.NodeCompleted, workflow.NodeFailed, workflow.NodeSkipped:
		metrics.RecordNodeExecution(string(res.Status), res.Duration)
	}

	return m.store.UpdateExecution(ctx, exec)
}

// Checkpoint writes a durable snapshot of the execution's current state.
func (m *Manager) Checkpoint(ctx context.Context, executionID, reason string, meta map[string]string) (string, error) {
	l := m.lock(executionID)
	l.Lock()
	defer l.Unlock()

	return m.checkpointLocked(ctx, executionID, reason, meta)
}

func (m *Manager) checkpointLocked(ctx context.Context, executionID, reason string, meta map[string]string) (string, error) {
	exec, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return "", err
	}

	snap := Snapshot{
		ExecutionID: exec.ID,
		TemplateID:  exec.TemplateID,
		Status:      exec.Status,
		NodeStates:  exec.NodeStates,
		Variables:   exec.Variables,
		Meta:        meta,
		TakenAt:     time.Now().UTC(),
	}

	cp, err := m.store.SaveCheckpoint(ctx, executionID, reason, snap)
	if err != nil {
		return "", fmt.Errorf("checkpointing execution %s: %w", executionID, err)
	}

	metrics.RecordCheckpoint(reason)

	log.Debug().
		Str("execution_id", executionID).
		Str("checkpoint_id", cp.ID).
		Str("reason", reason).
		Int("seq", cp.Seq).
		Msg("Checkpoint written")

	return cp.ID, nil
}

// Finish records the final result and releases the run's in-memory state.
func (m *Manager) Finish(ctx context.Context, executionID string, res *workflow.Result) error {
	l := m.lock(executionID)
	l.Lock()
	defer l.Unlock()

	exec, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	exec.Status = res.Status
	exec.Error = strings.Join(res.Errors, "; ")
	exec.UpdatedAt = now
	exec.CompletedAt = &now

	if err := m.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}

	m.release(executionID)

	log.Info().
		Str("execution_id", executionID).
		Str("status", string(res.Status)).
		Int("completed", res.CompletedBlocks).
		Int("failed", res.FailedBlocks).
		Int("skipped", res.SkippedBlocks).
		Dur("duration", res.TotalExecutionTime).
		Msg("Execution finished")

	return nil
}

// PauseRequested reports whether Pause was called for the execution.
// The executor consults this at node boundaries.
func (m *Manager) PauseRequested(executionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused[executionID]
}

// Pause requests a cooperative stop: it takes a pause checkpoint, flips
// the persisted status, and raises the in-memory flag the executor polls.
// The execution stops at the next node boundary; in-flight nodes finish.
func (m *Manager) Pause(ctx context.Context, executionID string) error {
	l := m.lock(executionID)
	l.Lock()
	defer l.Unlock()

	exec, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Terminal() {
		return fmt.Errorf("execution %s is %s and cannot be paused", executionID, exec.Status)
	}
	if exec.Status == workflow.StatusPaused {
		return nil
	}

	exec.Status = workflow.StatusPaused
	exec.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}

	if _, err := m.checkpointLocked(ctx, executionID, workflow.ReasonPause, nil); err != nil {
		return err
	}

	m.mu.Lock()
	m.paused[executionID] = true
	m.mu.Unlock()

	log.Info().Str("execution_id", executionID).Msg("Execution pause requested")

	return nil
}

// Resume transitions a paused execution back to running and clears the
// pause flag. The caller re-drives it through the executor with the
// resume option set.
func (m *Manager) Resume(ctx context.Context, executionID string) (*ExecutionState, error) {
	l := m.lock(executionID)
	l.Lock()
	defer l.Unlock()

	exec, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != workflow.StatusPaused {
		return nil, fmt.Errorf("execution %s is %s, not paused", executionID, exec.Status)
	}

	return m.reactivateLocked(ctx, exec)
}

// Restore prepares a non-terminal execution for re-driving after a
// process restart. Nodes that never completed go back to pending; their
// recorded attempts are discarded.
func (m *Manager) Restore(ctx context.Context, executionID string) (*ExecutionState, error) {
	l := m.lock(executionID)
	l.Lock()
	defer l.Unlock()

	exec, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Terminal() {
		return nil, fmt.Errorf("execution %s is %s and cannot be restored", executionID, exec.Status)
	}

	return m.reactivateLocked(ctx, exec)
}

// RestoreCheckpoint rewinds a non-terminal execution to a specific
// checkpoint before reactivating it: node states and variables come from
// the snapshot, so progress recorded after that checkpoint is discarded
// and re-attempted.
func (m *Manager) RestoreCheckpoint(ctx context.Context, executionID, checkpointID string) (*ExecutionState, error) {
	l := m.lock(executionID)
	l.Lock()
	defer l.Unlock()

	cp, err := m.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp.ExecutionID != executionID {
		return nil, fmt.Errorf("checkpoint %s belongs to execution %s, not %s",
			checkpointID, cp.ExecutionID, executionID)
	}

	exec, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Terminal() {
		return nil, fmt.Errorf("execution %s is %s and cannot be restored", executionID, exec.Status)
	}

	exec.NodeStates = cp.Snapshot.NodeStates
	exec.Variables = cp.Snapshot.Variables

	return m.reactivateLocked(ctx, exec)
}

func (m *Manager) reactivateLocked(ctx context.Context, exec *ExecutionState) (*ExecutionState, error) {
	kept := exec.NodeStates[:0]
	for _, ns := range exec.NodeStates {
		if ns.Status == workflow.NodeCompleted {
			kept = append(kept, ns)
		}
	}
	exec.NodeStates = kept
	exec.CompletedNodes = nodesWithStatus(exec.NodeStates, workflow.NodeCompleted)
	exec.FailedNodes = nil
	exec.SkippedNodes = nil
	exec.CurrentNodeIndex = len(exec.CompletedNodes)
	exec.Status = workflow.StatusRunning
	exec.Error = ""
	exec.UpdatedAt = time.Now().UTC()

	if err := m.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	// A pause checkpoint can predate node updates that landed while the
	// run was winding down; snapshot the reconciled record so the resume
	// point is exact.
	if _, err := m.checkpointLocked(ctx, exec.ID, workflow.ReasonResume, nil); err != nil {
		return nil, err
	}

	m.mu.Lock()
	delete(m.paused, exec.ID)
	m.mu.Unlock()

	log.Info().
		Str("execution_id", exec.ID).
		Int("completed_nodes", len(exec.CompletedNodes)).
		Msg("Execution reactivated")

	return exec, nil
}

// ResumePoint returns the completed node outputs and variables recorded
// at the latest checkpoint, falling back to the execution record when no
// checkpoint exists yet.
func (m *Manager) ResumePoint(ctx context.Context, executionID string) (map[string]string, map[string]string, error) {
	var states []NodeState
	var vars map[string]string

	cp, err := m.store.LatestCheckpoint(ctx, executionID)
	switch {
	case err == nil:
		states = cp.Snapshot.NodeStates
		vars = cp.Snapshot.Variables
	default:
		exec, execErr := m.store.GetExecution(ctx, executionID)
		if execErr != nil {
			return nil, nil, fmt.Errorf("loading resume point for %s: %w", executionID, execErr)
		}
		states = exec.NodeStates
		vars = exec.Variables
	}

	outputs := make(map[string]string)
	for _, ns := range states {
		if ns.Status == workflow.NodeCompleted {
			outputs[ns.NodeID] = ns.Output
		}
	}

	return outputs, vars, nil
}

// Recoverable lists the non-terminal, checkpointed executions found at
// startup.
func (m *Manager) Recoverable(ctx context.Context) ([]*ExecutionState, error) {
	return m.store.ListRecoverable(ctx)
}

// Expire removes terminal executions older than the retention window.
func (m *Manager) Expire(ctx context.Context, retention time.Duration) error {
	removed, err := m.store.DeleteOlderThan(ctx, retention)
	if err != nil {
		return err
	}
	if removed > 0 {
		log.Info().Int64("removed", removed).Msg("Expired old executions")
	}
	return nil
}

func nodesWithStatus(states []NodeState, status workflow.NodeStatus) []string {
	var ids []string
	for _, ns := range states {
		if ns.Status == status {
			ids = append(ids, ns.NodeID)
		}
	}
	return ids
}
