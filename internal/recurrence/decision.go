package recurrence

import "wprecur/internal/openproject"

// CloneRequest asks for a new instance of Template due on DueDate.
//
// Overrides are keyed by field display name (or built-in key) and applied on
// top of the inherited fields in addition to the dates.
type CloneRequest struct {
	Template  Template
	Policy    Policy
	StartDate openproject.Date
	DueDate   openproject.Date
	Overrides map[string]any
}

// UpdateRequest asks for a partial update of Template. LockVersion is the
// concurrency token the template was read with.
type UpdateRequest struct {
	Template    Template
	Overrides   map[string]any
	LockVersion int
}

func newClone(t Template, p Policy, due openproject.Date) CloneRequest {
	return CloneRequest{
		Template:  t,
		Policy:    p,
		StartDate: ShiftSpan(t.WP.StartDate, t.WP.DueDate, due),
		DueDate:   due,
	}
}

func newUpdate(t Template, overrides map[string]any) UpdateRequest {
	return UpdateRequest{Template: t, Overrides: overrides, LockVersion: t.WP.LockVersion}
}

// Decision is the outcome of evaluating one template under one policy.
//
// The set of variants is closed: NoAction, CloneOnly, UpdateOnly and
// CloneAndUpdate. Dispatchers switch over them exhaustively and treat any
// other value as ErrUnknownDecision.
type Decision interface {
	TemplateID() int
	decision()
}

// NoAction records why a template produced no work.
type NoAction struct {
	Template Template
	Policy   Policy
	Reason   string
}

type CloneOnly struct {
	Clone CloneRequest
}

type UpdateOnly struct {
	Update UpdateRequest
}

// CloneAndUpdate creates a clone and then updates the template. The update
// must not be applied if the clone fails.
type CloneAndUpdate struct {
	Clone  CloneRequest
	Update UpdateRequest
}

func (d NoAction) TemplateID() int       { return d.Template.ID() }
func (d CloneOnly) TemplateID() int      { return d.Clone.Template.ID() }
func (d UpdateOnly) TemplateID() int     { return d.Update.Template.ID() }
func (d CloneAndUpdate) TemplateID() int { return d.Clone.Template.ID() }

func (NoAction) decision()       {}
func (CloneOnly) decision()      {}
func (UpdateOnly) decision()     {}
func (CloneAndUpdate) decision() {}

// Reasons recorded on NoAction.
const (
	ReasonSatisfied   = "already satisfied"
	ReasonInvalid     = "invalid configuration"
	ReasonUnchanged   = "condition unchanged"
	ReasonNotDetected = "condition not detected"
)
