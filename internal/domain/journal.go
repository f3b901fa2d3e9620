package domain

import "time"

type SubmissionKind string

const (
	SubmitCreate   SubmissionKind = "create"
	SubmitUpdate   SubmissionKind = "update"
	SubmitSchedule SubmissionKind = "schedule"
)

// Submission is one journaled attempt to persist a form.
type Submission struct {
	ID          string
	DinkyTaskID int
	CatalogueID int
	Kind        SubmissionKind
	Outcome     string
	Message     string
	CreatedAt   time.Time
}
