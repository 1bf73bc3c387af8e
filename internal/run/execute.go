package run

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"wprecur/internal/clone"
	"wprecur/internal/openproject"
	"wprecur/internal/recurrence"
	logx "wprecur/pkg/logx"
)

type cloner interface {
	Create(ctx context.Context, req recurrence.CloneRequest) (*clone.Created, error)
}

type updater interface {
	Update(ctx context.Context, req recurrence.UpdateRequest) (*openproject.WorkPackage, error)
}

// executor runs the write phases. Items are isolated: one failing item
// never cancels the others.
type executor struct {
	workers int
	log     logx.Logger

	mu   sync.Mutex
	errs []error
}

func (e *executor) fail(err error) {
	e.mu.Lock()
	e.errs = append(e.errs, err)
	e.mu.Unlock()
}

func (e *executor) run(ctx context.Context, c cloner, u updater, p plan, s *Summary) error {
	updates := append([]recurrence.UpdateRequest(nil), p.updates...)

	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, job := range p.clones {
		g.Go(func() error {
			created, err := c.Create(ctx, job.req)
			if created != nil {
				e.mu.Lock()
				s.Clones++
				s.Created = append(s.Created, CreatedClone{
					TemplateID:    created.TemplateID,
					WorkPackageID: created.WorkPackage.ID,
					ProjectID:     created.ProjectID,
					Project:       created.Project,
					Subject:       created.WorkPackage.Subject,
					Due:           job.req.DueDate,
					Policy:        job.req.Policy,
				})
				if job.then != nil {
					updates = append(updates, *job.then)
				}
				e.mu.Unlock()
			} else if job.then != nil {
				e.log.Warn("update dropped; clone failed", logx.Int("template_id", job.req.Template.ID()))
			}
			if err != nil {
				e.log.Error("clone failed", logx.Int("template_id", job.req.Template.ID()), logx.Err(err))
				e.fail(err)
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(s.Created, func(i, j int) bool { return s.Created[i].TemplateID < s.Created[j].TemplateID })

	var ug errgroup.Group
	ug.SetLimit(e.workers)
	for _, req := range updates {
		ug.Go(func() error {
			if _, err := u.Update(ctx, req); err != nil {
				if errors.Is(err, openproject.ErrConflict) {
					e.log.Warn("template changed since read; update skipped", logx.Int("template_id", req.Template.ID()))
				} else {
					e.log.Error("update failed", logx.Int("template_id", req.Template.ID()), logx.Err(err))
				}
				e.fail(err)
				return nil
			}
			e.mu.Lock()
			s.Updates++
			e.mu.Unlock()
			return nil
		})
	}
	_ = ug.Wait()

	s.Failures = len(e.errs)
	if len(e.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w (%d): %w", ErrPartial, len(e.errs), errors.Join(e.errs...))
}
