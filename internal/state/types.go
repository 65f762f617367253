// Package state persists execution runs and their checkpoints, and lets
// executions be paused, resumed, and recovered across process restarts.
package state

import (
	"time"

	"github.com/watzon/loom/internal/workflow"
)

// NodeState is the persisted form of one node's progress.
type NodeState struct {
	NodeID   string              `json:"nodeId"`
	Status   workflow.NodeStatus `json:"status"`
	Output   string              `json:"output,omitempty"`
	Error    string              `json:"error,omitempty"`
	Attempts int                 `json:"attempts"`
	Duration time.Duration       `json:"duration"`
}

// ExecutionState is the persisted view of one execution run.
type ExecutionState struct {
	ID               string            `json:"id"`
	TemplateID       string            `json:"templateId"`
	ScheduleID       string            `json:"scheduleId,omitempty"`
	Status           workflow.Status   `json:"status"`
	CurrentNodeIndex int               `json:"currentNodeIndex"`
	TotalNodes       int               `json:"totalNodes"`
	CompletedNodes   []string          `json:"completedNodes"`
	FailedNodes      []string          `json:"failedNodes"`
	SkippedNodes     []string          `json:"skippedNodes"`
	NodeStates       []NodeState       `json:"nodeStates"`
	Variables        map[string]string `json:"variables,omitempty"`
	Error            string            `json:"error,omitempty"`
	StartedAt        time.Time         `json:"startedAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	CompletedAt      *time.Time        `json:"completedAt,omitempty"`
}

// Terminal reports whether the execution can no longer make progress.
func (e *ExecutionState) Terminal() bool {
	switch e.Status {
	case workflow.StatusCompleted, workflow.StatusFailed, workflow.StatusCancelled:
		return true
	}
	return false
}

// nodeState returns the recorded state of a node, or nil.
func (e *ExecutionState) nodeState(nodeID string) *NodeState {
	for i := range e.NodeStates {
		if e.NodeStates[i].NodeID == nodeID {
			return &e.NodeStates[i]
		}
	}
	return nil
}

// Snapshot is the durable payload of a checkpoint: everything needed to
// continue the run from the last node boundary.
type Snapshot struct {
	ExecutionID string            `json:"executionId"`
	TemplateID  string            `json:"templateId"`
	Status      workflow.Status   `json:"status"`
	NodeStates  []NodeState       `json:"nodeStates"`
	Variables   map[string]string `json:"variables,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	TakenAt     time.Time         `json:"takenAt"`
}

// Checkpoint is a durable progress snapshot. Seq increases monotonically
// within an execution; the store evicts the oldest beyond the configured
// maximum.
type Checkpoint struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"executionId"`
	Seq         int       `json:"seq"`
	Reason      string    `json:"reason"`
	Snapshot    Snapshot  `json:"snapshot"`
	CreatedAt   time.Time `json:"createdAt"`
}
