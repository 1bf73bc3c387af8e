package clone

import (
	"context"
	"fmt"
	"strings"

	"wprecur/internal/openproject"
	"wprecur/internal/recurrence"
	"wprecur/internal/schema"
	logx "wprecur/pkg/logx"
)

// Created is a clone that reached the server.
type Created struct {
	TemplateID  int
	WorkPackage *openproject.WorkPackage
	ProjectID   int
	Project     string
}

// Orchestrator creates clones of templates.
type Orchestrator struct {
	cat    Catalog
	api    Writer
	notify bool
	log    logx.Logger
}

func NewOrchestrator(cat Catalog, api Writer, notify bool, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{cat: cat, api: api, notify: notify, log: log.With(logx.String("component", "clone"))}
}

// Create copies req.Template into its target project with the requested
// dates and overrides, then relates the copy to the template as a duplicate.
//
// When the relation fails the clone is kept: the returned Created is non-nil
// and the error wraps ErrRelation.
func (o *Orchestrator) Create(ctx context.Context, req recurrence.CloneRequest) (*Created, error) {
	t := req.Template
	title, err := t.LinkTitle(recurrence.FieldTargetProject)
	if err != nil {
		return nil, fmt.Errorf("template %d: %w", t.ID(), err)
	}
	proj, err := o.targetProject(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("template %d: %w", t.ID(), err)
	}
	typeID, ok := t.WP.TypeID()
	if !ok {
		return nil, fmt.Errorf("template %d has no type link", t.ID())
	}
	dst, err := o.cat.Schema(ctx, proj.ID, typeID)
	if err != nil {
		return nil, fmt.Errorf("template %d: %w", t.ID(), err)
	}

	p := t.WP.Payload()
	delete(p, "id")
	delete(p, "lockVersion")
	p["startDate"] = req.StartDate
	p["dueDate"] = req.DueDate
	p["date"] = req.DueDate
	if err := applyOverrides(p, req.Overrides, o.cat, dst); err != nil {
		return nil, fmt.Errorf("template %d: %w", t.ID(), err)
	}
	p.SetLink("project", openproject.ProjectHref(proj.ID))
	body := schema.Sanitize(p, dst)

	wp, err := o.api.CreateWorkPackage(ctx, proj.ID, body, o.notify)
	if err != nil {
		return nil, fmt.Errorf("create clone of %d in project %d: %w", t.ID(), proj.ID, err)
	}
	c := &Created{TemplateID: t.ID(), WorkPackage: wp, ProjectID: proj.ID, Project: proj.Name}
	o.log.Info("clone created",
		logx.Int("template_id", t.ID()),
		logx.Int("work_package_id", wp.ID),
		logx.Int("project_id", proj.ID),
		logx.String("due", req.DueDate.String()),
	)

	if _, err := o.api.CreateRelation(ctx, wp.ID, t.ID(), openproject.RelationDuplicates); err != nil {
		o.log.Error("relation failed; clone left unlinked",
			logx.Int("template_id", t.ID()),
			logx.Int("work_package_id", wp.ID),
			logx.Err(err),
		)
		return c, fmt.Errorf("%w: %d duplicates %d: %w", ErrRelation, wp.ID, t.ID(), err)
	}
	return c, nil
}

// targetProject returns the first active project whose name is title.
// Archived projects accept no new work packages.
func (o *Orchestrator) targetProject(ctx context.Context, title string) (openproject.Project, error) {
	ps, err := o.cat.Projects(ctx)
	if err != nil {
		return openproject.Project{}, err
	}
	title = strings.TrimSpace(title)
	for _, p := range ps {
		if p.Active && p.Name == title {
			return p, nil
		}
	}
	return openproject.Project{}, fmt.Errorf("%w: %q", ErrProjectNotFound, title)
}
