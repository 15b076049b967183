package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Stage identifies one external portal workflow.
type Stage string

const (
	StageA Stage = "StageA"
	StageB Stage = "StageB"
)

func KnownStage(s Stage) bool {
	return s == StageA || s == StageB
}

// StageResult is the terminal outcome of one stage within a job.
// The artifact is the portal's durable reference (case number, confirmation code).
type StageResult struct {
	Success  bool   `json:"success"`
	Artifact string `json:"artifact,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Job is one automation attempt against the external portals.
// Terminal jobs are never deleted; they are the audit trail.
type Job struct {
	ID              uuid.UUID             `json:"id"`
	ApplicationID   int64                 `json:"application_id"`
	RequestedStages []Stage               `json:"requested_stages"`
	Status          JobStatus             `json:"status"`
	CurrentStage    *Stage                `json:"current_stage"`
	StageProgress   *string               `json:"stage_progress"`
	StagesCompleted map[Stage]StageResult `json:"stages_completed"`
	CaseReferenceA  *string               `json:"case_reference_a"`
	CaseReferenceB  *string               `json:"case_reference_b"`
	ErrorMessage    *string               `json:"error_message"`
	ErrorStage      *Stage                `json:"error_stage"`
	TriggeredBy     *string               `json:"triggered_by"`
	Country         string                `json:"country,omitempty"`
	VisibleMode     bool                  `json:"visible_mode"`
	CancelRequested bool                  `json:"-"`
	StartedAt       *time.Time            `json:"started_at"`
	CompletedAt     *time.Time            `json:"completed_at"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}
