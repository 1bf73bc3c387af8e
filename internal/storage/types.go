package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	KeepRuns    int           // 0 keeps everything
}

// RunRecord summarizes one evaluate-and-act pass.
type RunRecord struct {
	ID        string    `json:"id"`
	Started   time.Time `json:"started"`
	TookMS    int64     `json:"took_ms"`
	Today     string    `json:"today"`
	DryRun    bool      `json:"dry_run,omitempty"`
	Templates int       `json:"templates"`
	Clones    int       `json:"clones"`
	Updates   int       `json:"updates"`
	Failures  int       `json:"failures"`
	Error     string    `json:"error,omitempty"`

	// Created is filled by RecentRuns.
	Created []CloneRecord `json:"-"`
}

// CloneRecord is one work package created by a run.
type CloneRecord struct {
	RunID         string    `json:"run_id"`
	At            time.Time `json:"at"`
	TemplateID    int       `json:"template_id"`
	WorkPackageID int       `json:"work_package_id"`
	ProjectID     int       `json:"project_id"`
	Project       string    `json:"project,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	Due           string    `json:"due,omitempty"`
	Policy        string    `json:"policy,omitempty"`
}
