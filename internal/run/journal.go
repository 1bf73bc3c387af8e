package run

import (
	"context"
	"errors"

	"wprecur/internal/storage"
)

// JournalObserver records every pass and its clones.
type JournalObserver struct {
	J storage.Journal
}

func (o JournalObserver) RunFinished(ctx context.Context, s Summary) error {
	if o.J == nil {
		return nil
	}
	rec := storage.RunRecord{
		ID:        s.RunID,
		Started:   s.Started,
		TookMS:    s.Took.Milliseconds(),
		Today:     s.Today.String(),
		DryRun:    s.DryRun,
		Templates: s.Templates,
		Clones:    s.Clones,
		Updates:   s.Updates,
		Failures:  s.Failures,
	}
	if s.Err != nil {
		rec.Error = s.Err.Error()
	}
	errs := []error{o.J.AppendRun(ctx, rec)}
	for _, c := range s.Created {
		errs = append(errs, o.J.AppendClone(ctx, storage.CloneRecord{
			RunID:         s.RunID,
			At:            s.Started,
			TemplateID:    c.TemplateID,
			WorkPackageID: c.WorkPackageID,
			ProjectID:     c.ProjectID,
			Project:       c.Project,
			Subject:       c.Subject,
			Due:           c.Due.String(),
			Policy:        string(c.Policy),
		}))
	}
	return errors.Join(errs...)
}
