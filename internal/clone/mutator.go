package clone

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"wprecur/internal/openproject"
	"wprecur/internal/recurrence"
	"wprecur/internal/schema"
	logx "wprecur/pkg/logx"
)

// Mutator applies partial updates to templates under optimistic locking.
type Mutator struct {
	cat    Catalog
	api    Writer
	notify bool
	log    logx.Logger
}

func NewMutator(cat Catalog, api Writer, notify bool, log logx.Logger) *Mutator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Mutator{cat: cat, api: api, notify: notify, log: log.With(logx.String("component", "mutator"))}
}

// Update writes req.Overrides onto the template. The request's lock version
// is sent as is; a stale one fails with openproject.ErrConflict and is not
// retried.
//
// lockVersion is added after Sanitize: schemas mark it read-only, but the
// API requires it on every PATCH. It is the only key sent that the schema
// does not declare writable.
func (m *Mutator) Update(ctx context.Context, req recurrence.UpdateRequest) (*openproject.WorkPackage, error) {
	t := req.Template
	s, err := templateSchema(ctx, m.cat, t.WP)
	if err != nil {
		return nil, err
	}
	p := openproject.Payload{}
	if err := applyOverrides(p, req.Overrides, m.cat, s); err != nil {
		return nil, fmt.Errorf("template %d: %w", t.ID(), err)
	}
	body := schema.Sanitize(p, s)
	if dropped := droppedKeys(p, body); len(dropped) > 0 && len(body) == 0 {
		return nil, fmt.Errorf("template %d: %w: %s", t.ID(), ErrNotWritable, strings.Join(dropped, ", "))
	}
	// Concurrency token, exempt from the writability filter.
	body["lockVersion"] = req.LockVersion

	wp, err := m.api.UpdateWorkPackage(ctx, t.ID(), body, m.notify)
	if err != nil {
		return nil, fmt.Errorf("update template %d: %w", t.ID(), err)
	}
	m.log.Info("template updated", logx.Int("template_id", t.ID()), logx.Int("lock_version", wp.LockVersion))
	return wp, nil
}

func droppedKeys(in, out openproject.Payload) []string {
	var dropped []string
	for _, k := range in.Keys() {
		if _, ok := out[k]; !ok {
			dropped = append(dropped, k)
		}
	}
	inLinks, _ := in["_links"].(map[string]any)
	outLinks, _ := out["_links"].(map[string]any)
	for k := range inLinks {
		if _, ok := outLinks[k]; !ok {
			dropped = append(dropped, k)
		}
	}
	sort.Strings(dropped)
	return dropped
}
