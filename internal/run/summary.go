package run

import (
	"time"

	"wprecur/internal/openproject"
	"wprecur/internal/recurrence"
)

// Summary describes one finished pass.
type Summary struct {
	RunID   string
	Started time.Time
	Took    time.Duration
	Today   openproject.Date
	DryRun  bool

	Templates int
	Decisions int
	Clones    int
	Updates   int
	Skipped   int
	Failures  int

	Created []CreatedClone
	// Planned holds the decisions a dry run would have executed.
	Planned []recurrence.Decision
	Err     error
}

// CreatedClone is a clone that reached the server during the run.
type CreatedClone struct {
	TemplateID    int
	WorkPackageID int
	ProjectID     int
	Project       string
	Subject       string
	Due           openproject.Date
	Policy        recurrence.Policy
}

// Changed reports whether the run created or failed anything.
func (s Summary) Changed() bool {
	return s.Clones > 0 || s.Updates > 0 || s.Failures > 0 || s.Err != nil
}
