package recurrence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"wprecur/internal/openproject"
	logx "wprecur/pkg/logx"
)

// Querier is the subset of the OpenProject API the guard reads.
type Querier interface {
	ListWorkPackages(ctx context.Context, filters openproject.Filters) ([]*openproject.WorkPackage, error)
	ListRelations(ctx context.Context, filters openproject.Filters) ([]openproject.Relation, error)
}

// Candidate is a template about to receive a clone due on Due.
// A zero Due matches duplicates of any date.
type Candidate struct {
	TemplateID int
	Due        openproject.Date
}

// Guard finds templates that already have an open duplicate for their
// computed due date.
type Guard struct {
	q   Querier
	log logx.Logger
}

func NewGuard(q Querier, log logx.Logger) *Guard {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Guard{q: q, log: log.With(logx.String("component", "guard"))}
}

// Satisfied returns template id → ids of open duplicates matching the
// candidate's due date. Templates without duplicates are absent.
//
// Candidates are grouped by due date; each group costs one work package
// query plus, when duplicates exist, one relation query. Groups run
// concurrently and any failure aborts the whole check.
func (g *Guard) Satisfied(ctx context.Context, cands []Candidate) (map[int][]int, error) {
	groups := map[openproject.Date][]int{}
	for _, c := range cands {
		groups[c.Due] = append(groups[c.Due], c.TemplateID)
	}

	var mu sync.Mutex
	out := map[int][]int{}

	eg, egCtx := errgroup.WithContext(ctx)
	for due, ids := range groups {
		eg.Go(func() error {
			m, err := g.group(egCtx, due, ids)
			if err != nil {
				return err
			}
			mu.Lock()
			for tid, dups := range m {
				out[tid] = append(out[tid], dups...)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	for tid := range out {
		sort.Ints(out[tid])
	}
	return out, nil
}

func (g *Guard) group(ctx context.Context, due openproject.Date, templateIDs []int) (map[int][]int, error) {
	filters := openproject.Filters{
		openproject.OpenStatus(),
		openproject.EqualsIDs("duplicates", templateIDs...),
	}
	if !due.IsZero() {
		filters = append(filters, openproject.DateEquals("dueDate", due))
	}
	dups, err := g.q.ListWorkPackages(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("query duplicates: %w", err)
	}
	if len(dups) == 0 {
		return nil, nil
	}

	dupIDs := make([]int, 0, len(dups))
	isDup := make(map[int]bool, len(dups))
	for _, d := range dups {
		dupIDs = append(dupIDs, d.ID)
		isDup[d.ID] = true
	}
	rels, err := g.q.ListRelations(ctx, openproject.Filters{
		openproject.EqualsIDs("to", templateIDs...),
		openproject.EqualsIDs("from", dupIDs...),
		openproject.Equals("type", openproject.RelationDuplicates),
	})
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}

	inGroup := make(map[int]bool, len(templateIDs))
	for _, id := range templateIDs {
		inGroup[id] = true
	}
	out := map[int][]int{}
	for _, r := range rels {
		if r.Type != "" && r.Type != openproject.RelationDuplicates {
			continue
		}
		if !inGroup[r.To] || !isDup[r.From] {
			continue
		}
		out[r.To] = append(out[r.To], r.From)
	}
	g.log.Debug("duplicates checked",
		logx.String("due", due.String()),
		logx.Int("templates", len(templateIDs)),
		logx.Int("duplicates", len(dups)),
		logx.Int("satisfied", len(out)),
	)
	return out, nil
}
