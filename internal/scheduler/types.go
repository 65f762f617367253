// Package scheduler owns recurring schedules: it persists them, fires
// them from a poll loop, and exposes the manual trigger surface.
package scheduler

import (
	"time"

	"github.com/watzon/loom/internal/workflow"
)

// Status is the lifecycle state of a schedule.
type Status string

const (
	// StatusActive schedules fire when due.
	StatusActive Status = "active"
	// StatusPaused schedules keep their definition but do not fire.
	StatusPaused Status = "paused"
	// StatusCompleted schedules hit maxRuns or endDate; never re-armed.
	StatusCompleted Status = "completed"
	// StatusFailed schedules stopped on a failed run; re-enabling
	// reactivates them.
	StatusFailed Status = "failed"
)

// Schedule is a recurring execution intent.
type Schedule struct {
	ID             string            `json:"id"`
	TemplateID     string            `json:"templateId"`
	TemplateName   string            `json:"templateName,omitempty"`
	CronExpression string            `json:"cronExpression"`
	Options        workflow.Options  `json:"options"`
	Enabled        bool              `json:"enabled"`
	Status         Status            `json:"status"`
	MaxRuns        int               `json:"maxRuns,omitempty"`
	EndDate        *time.Time        `json:"endDate,omitempty"`
	RunCount       int               `json:"runCount"`
	LastRun        *time.Time        `json:"lastRun,omitempty"`
	NextRun        *time.Time        `json:"nextRun,omitempty"`
	LastResult     *workflow.Summary `json:"lastResult,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Fireable reports whether the schedule may be armed at all.
func (s *Schedule) Fireable() bool {
	return s.Enabled && s.Status == StatusActive
}

// CreateRequest describes a new schedule.
type CreateRequest struct {
	TemplateID     string           `json:"templateId"`
	CronExpression string           `json:"cronExpression"`
	Options        workflow.Options `json:"options"`
	Enabled        *bool            `json:"enabled,omitempty"` // default true
	MaxRuns        int              `json:"maxRuns,omitempty"`
	EndDate        *time.Time       `json:"endDate,omitempty"`
}

// Update is a partial schedule update; nil fields are left unchanged.
type Update struct {
	CronExpression *string           `json:"cronExpression,omitempty"`
	Options        *workflow.Options `json:"options,omitempty"`
	MaxRuns        *int              `json:"maxRuns,omitempty"`
	EndDate        *time.Time        `json:"endDate,omitempty"`
}

// Document is the versioned export shape of the schedule collection.
type Document struct {
	Version     string      `json:"version"`
	LastUpdated time.Time   `json:"lastUpdated"`
	Schedules   []*Schedule `json:"schedules"`
}

// DocumentVersion is the current export format version.
const DocumentVersion = "1.0.0"
