// Package run drives one evaluate-and-act pass over every template.
//
// A pass discovers the metadata (projects, types, schemas), queries the open
// templates, lets the recurrence engine decide, then executes all clones
// concurrently followed by all template updates. Failures of single items do
// not stop the pass; they are counted and returned joined.
package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"wprecur/internal/clone"
	"wprecur/internal/openproject"
	"wprecur/internal/recurrence"
	"wprecur/internal/schema"
	logx "wprecur/pkg/logx"
)

// API is the OpenProject surface a pass needs.
type API interface {
	schema.Source
	recurrence.Querier
	clone.Writer
}

// Observer is told about every finished pass.
type Observer interface {
	RunFinished(ctx context.Context, s Summary) error
}

type Options struct {
	// Notify asks OpenProject to send its own notifications for writes.
	Notify bool
	// DryRun evaluates without writing.
	DryRun bool
	// Location defines "today". Defaults to time.Local.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
	// Workers bounds concurrent writes per phase. 0 means 8.
	Workers int
}

type Runner struct {
	api       API
	forecast  recurrence.Forecaster
	opts      Options
	log       logx.Logger
	observers []Observer
}

func New(api API, f recurrence.Forecaster, opts Options, log logx.Logger, obs ...Observer) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	return &Runner{api: api, forecast: f, opts: opts, log: log.With(logx.String("component", "runner")), observers: obs}
}

// RunOnce performs a single pass. Metadata is resolved fresh for every pass.
//
// The returned error is non-nil if discovery or evaluation failed (nothing
// was written) or if any clone or update failed (the rest was written).
func (r *Runner) RunOnce(ctx context.Context) (Summary, error) {
	started := r.opts.Now()
	s := Summary{
		RunID:   uuid.NewString(),
		Started: started,
		Today:   openproject.DateOf(started.In(r.opts.Location)),
		DryRun:  r.opts.DryRun,
	}
	log := r.log.With(logx.String("run_id", s.RunID))
	log.Info("run started", logx.String("today", s.Today.String()), logx.Bool("dry_run", s.DryRun))

	err := r.pass(ctx, log, &s)
	s.Err = err
	s.Took = r.opts.Now().Sub(started)

	fields := []logx.Field{
		logx.Int("templates", s.Templates),
		logx.Int("clones", s.Clones),
		logx.Int("updates", s.Updates),
		logx.Int("failures", s.Failures),
		logx.Duration("took", s.Took),
	}
	if err != nil {
		log.Error("run finished with errors", append(fields, logx.Err(err))...)
	} else {
		log.Info("run finished", fields...)
	}

	// Observers run even if the caller's context is already done.
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	for _, o := range r.observers {
		if oerr := o.RunFinished(octx, s); oerr != nil {
			log.Warn("run observer failed", logx.Err(oerr))
		}
	}
	return s, err
}

func (r *Runner) pass(ctx context.Context, log logx.Logger, s *Summary) error {
	res := schema.NewResolver(r.api, log)

	templates, err := r.discover(ctx, log, res)
	if err != nil {
		return err
	}
	s.Templates = len(templates)
	if len(templates) == 0 {
		return nil
	}

	engine := recurrence.NewEngine(r.api, r.forecast, log)
	decisions, err := engine.Evaluate(ctx, s.Today, templates)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	s.Decisions = len(decisions)

	plan, err := planOf(decisions)
	if err != nil {
		return err
	}
	s.Skipped = plan.skipped
	if r.opts.DryRun {
		for _, d := range decisions {
			if _, ok := d.(recurrence.NoAction); !ok {
				s.Planned = append(s.Planned, d)
			}
		}
		log.Info("dry run; nothing written", logx.Int("clones", len(plan.clones)), logx.Int("updates", len(plan.updates)))
		return nil
	}

	orch := clone.NewOrchestrator(res, r.api, r.opts.Notify, log)
	mut := clone.NewMutator(res, r.api, r.opts.Notify, log)
	ex := &executor{workers: r.opts.Workers, log: log}
	return ex.run(ctx, orch, mut, plan, s)
}

// discover returns the open templates whose (project, type) schema declares
// the policy field.
func (r *Runner) discover(ctx context.Context, log logx.Logger, res *schema.Resolver) ([]recurrence.Template, error) {
	projects, err := res.Projects(ctx)
	if err != nil {
		return nil, err
	}

	type pair struct{ project, typ int }
	var (
		mu    sync.Mutex
		pairs []pair
	)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, p := range projects {
		eg.Go(func() error {
			ts, err := res.Types(egCtx, p.ID)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, t := range ts {
				pairs = append(pairs, pair{p.ID, t.ID})
			}
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	schemas := make([]*schema.Schema, len(pairs))
	eg, egCtx = errgroup.WithContext(ctx)
	for i, pr := range pairs {
		eg.Go(func() error {
			sc, err := res.Schema(egCtx, pr.project, pr.typ)
			if err != nil {
				return err
			}
			schemas[i] = sc
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	policyKey, err := res.Key(recurrence.FieldPolicy)
	if err != nil {
		log.Warn("no schema declares the policy field; nothing to do", logx.String("field", recurrence.FieldPolicy))
		return nil, nil
	}

	eligible := map[pair]bool{}
	var projectIDs, typeIDs []int
	seenP, seenT := map[int]bool{}, map[int]bool{}
	for _, sc := range schemas {
		if !sc.Declares(policyKey) {
			continue
		}
		eligible[pair{sc.ProjectID, sc.TypeID}] = true
		if !seenP[sc.ProjectID] {
			seenP[sc.ProjectID] = true
			projectIDs = append(projectIDs, sc.ProjectID)
		}
		if !seenT[sc.TypeID] {
			seenT[sc.TypeID] = true
			typeIDs = append(typeIDs, sc.TypeID)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	wps, err := r.api.ListWorkPackages(ctx, openproject.Filters{
		openproject.OpenStatus(),
		openproject.EqualsIDs("project", projectIDs...),
		openproject.EqualsIDs("type", typeIDs...),
	})
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}

	// The query matches the cross product of projects and types.
	out := make([]recurrence.Template, 0, len(wps))
	for _, wp := range wps {
		pid, okP := wp.ProjectID()
		tid, okT := wp.TypeID()
		if !okP || !okT || !eligible[pair{pid, tid}] {
			continue
		}
		t := recurrence.NewTemplate(wp, res)
		if t.Policy() == "" {
			continue
		}
		out = append(out, t)
	}
	log.Debug("templates discovered",
		logx.Int("projects", len(projects)),
		logx.Int("schemas", len(schemas)),
		logx.Int("eligible_schemas", len(eligible)),
		logx.Int("templates", len(out)),
	)
	return out, nil
}

type cloneJob struct {
	req recurrence.CloneRequest
	// then is applied after the clone exists.
	then *recurrence.UpdateRequest
}

type plan struct {
	clones  []cloneJob
	updates []recurrence.UpdateRequest
	skipped int
}

func planOf(ds []recurrence.Decision) (plan, error) {
	var p plan
	for _, d := range ds {
		switch d := d.(type) {
		case recurrence.NoAction:
			p.skipped++
		case recurrence.CloneOnly:
			p.clones = append(p.clones, cloneJob{req: d.Clone})
		case recurrence.UpdateOnly:
			p.updates = append(p.updates, d.Update)
		case recurrence.CloneAndUpdate:
			u := d.Update
			p.clones = append(p.clones, cloneJob{req: d.Clone, then: &u})
		default:
			return plan{}, fmt.Errorf("%w: %T", recurrence.ErrUnknownDecision, d)
		}
	}
	return p, nil
}

// ErrPartial wraps the joined per-item failures of a pass.
var ErrPartial = errors.New("run: some actions failed")
