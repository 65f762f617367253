// Package workflow executes directed graphs of content-generation nodes.
package workflow

import (
	"context"
	"time"
)

// NodeStatus represents the status of a single node within a run.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// Status represents the status of an execution run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Node is one generation step in a workflow graph.
type Node struct {
	ID      string `json:"id" yaml:"id"`
	Type    string `json:"type" yaml:"type"`
	Content string `json:"content" yaml:"content"`
}

// Edge is a directed dependency between two nodes. Instruction labels how
// the upstream output is folded into the downstream input.
type Edge struct {
	From        string `json:"from" yaml:"from"`
	To          string `json:"to" yaml:"to"`
	Instruction string `json:"instruction,omitempty" yaml:"instruction,omitempty"`
}

// Graph is a workflow definition: nodes plus directed edges.
type Graph struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// NodeFunc is the caller-supplied generation callback. It may be slow
// (seconds to minutes) and must honor ctx cancellation.
type NodeFunc func(ctx context.Context, nodeID, input string) (string, error)

// ProgressFunc receives running totals after every node transition.
type ProgressFunc func(Progress)

// Options configures one execution run. The zero value picks defaults.
type Options struct {
	MaxRetries         int               `json:"maxRetries"`
	RetryDelay         time.Duration     `json:"retryDelay"`
	NodeTimeout        time.Duration     `json:"nodeTimeout"`
	MaxConcurrency     int               `json:"maxConcurrency"`
	ContinueOnFailure  bool              `json:"continueOnFailure"`
	CheckpointInterval time.Duration     `json:"checkpointInterval"`
	Variables          map[string]string `json:"variables,omitempty"`
}

const (
	defaultMaxRetries     = 2
	defaultRetryDelay     = 5 * time.Second
	defaultMaxConcurrency = 1
)

func (o Options) withDefaults() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = defaultMaxConcurrency
	}
	return o
}

// NodeResult is the outcome of one node.
type NodeResult struct {
	NodeID   string        `json:"nodeId"`
	Status   NodeStatus    `json:"status"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// Progress is a live snapshot of a run, reported after every node transition.
type Progress struct {
	ExecutionID        string        `json:"executionId"`
	CurrentNode        string        `json:"currentNode,omitempty"`
	TotalBlocks        int           `json:"totalBlocks"`
	CompletedBlocks    int           `json:"completedBlocks"`
	FailedBlocks       int           `json:"failedBlocks"`
	SkippedBlocks      int           `json:"skippedBlocks"`
	TotalExecutionTime time.Duration `json:"totalExecutionTime"`
	AverageBlockTime   time.Duration `json:"averageBlockTime"`
}

// Result is the final outcome of an execution run.
type Result struct {
	ExecutionID        string                 `json:"executionId"`
	Status             Status                 `json:"status"`
	Nodes              map[string]*NodeResult `json:"nodes"`
	CompletedBlocks    int                    `json:"completedBlocks"`
	FailedBlocks       int                    `json:"failedBlocks"`
	SkippedBlocks      int                    `json:"skippedBlocks"`
	TotalExecutionTime time.Duration          `json:"totalExecutionTime"`
	AverageBlockTime   time.Duration          `json:"averageBlockTime"`
	Errors             []string               `json:"errors,omitempty"`
}

// Summary is the compact form stored on a schedule's last result.
type Summary struct {
	ExecutionID     string    `json:"executionId"`
	Status          Status    `json:"status"`
	CompletedBlocks int       `json:"completedBlocks"`
	FailedBlocks    int       `json:"failedBlocks"`
	SkippedBlocks   int       `json:"skippedBlocks"`
	Errors          []string  `json:"errors,omitempty"`
	FinishedAt      time.Time `json:"finishedAt"`
}

// Summarize reduces a result to the form persisted on schedules.
func (r *Result) Summarize(finishedAt time.Time) Summary {
	return Summary{
		ExecutionID:     r.ExecutionID,
		Status:          r.Status,
		CompletedBlocks: r.CompletedBlocks,
		FailedBlocks:    r.FailedBlocks,
		SkippedBlocks:   r.SkippedBlocks,
		Errors:          r.Errors,
		FinishedAt:      finishedAt,
	}
}
