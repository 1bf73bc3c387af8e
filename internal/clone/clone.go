// Package clone executes evaluator decisions against OpenProject: it creates
// new instances of templates and writes state back onto templates.
package clone

import (
	"context"
	"errors"
	"fmt"

	"wprecur/internal/openproject"
	"wprecur/internal/schema"
)

var (
	// ErrProjectNotFound: no project carries the template's "Target Project" title.
	ErrProjectNotFound = errors.New("clone: target project not found")
	// ErrRelation reports that a clone was created but could not be linked
	// back to its template.
	ErrRelation = errors.New("clone: duplicates relation failed")
	// ErrNotWritable: none of an update's fields is writable on the template.
	ErrNotWritable = errors.New("clone: fields not writable")
)

// Catalog is the metadata the executors resolve through. *schema.Resolver
// satisfies it.
type Catalog interface {
	Key(name string) (string, error)
	Projects(ctx context.Context) ([]openproject.Project, error)
	Schema(ctx context.Context, projectID, typeID int) (*schema.Schema, error)
}

// Writer is the subset of the OpenProject API the executors write through.
type Writer interface {
	CreateWorkPackage(ctx context.Context, projectID int, payload openproject.Payload, notify bool) (*openproject.WorkPackage, error)
	CreateRelation(ctx context.Context, fromID, toID int, relType string) (*openproject.Relation, error)
	UpdateWorkPackage(ctx context.Context, id int, payload openproject.Payload, notify bool) (*openproject.WorkPackage, error)
}

// applyOverrides resolves display names and places each value either as a
// property or, for link-located fields, as an href under "_links".
func applyOverrides(p openproject.Payload, overrides map[string]any, cat Catalog, s *schema.Schema) error {
	for name, v := range overrides {
		key, err := cat.Key(name)
		if err != nil {
			return err
		}
		if f, ok := s.Field(key); ok && f.InLinks() {
			switch lv := v.(type) {
			case openproject.Link:
				p.Links()[key] = lv
			case string:
				p.SetLink(key, lv)
			default:
				return fmt.Errorf("clone: %s is a link field, got %T", name, v)
			}
			continue
		}
		p[key] = v
	}
	return nil
}

func templateSchema(ctx context.Context, cat Catalog, wp *openproject.WorkPackage) (*schema.Schema, error) {
	pid, ok := wp.ProjectID()
	if !ok {
		return nil, fmt.Errorf("clone: work package %d has no project link", wp.ID)
	}
	tid, ok := wp.TypeID()
	if !ok {
		return nil, fmt.Errorf("clone: work package %d has no type link", wp.ID)
	}
	return cat.Schema(ctx, pid, tid)
}
