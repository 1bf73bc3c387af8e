// Package schema resolves OpenProject work package schemas and field names.
//
// A Resolver owns every metadata cache of a run: the project list, the types
// per project, the schemas per (project, type) and the display name → key
// table. All of them fill at most once per key even under concurrent first
// access, and none of them is invalidated.
package schema

import (
	"context"
	"fmt"

	"wprecur/internal/memo"
	"wprecur/internal/openproject"
	logx "wprecur/pkg/logx"
)

// Source is the subset of the OpenProject API the resolver reads.
type Source interface {
	ListProjects(ctx context.Context) ([]openproject.Project, error)
	ListTypes(ctx context.Context, projectID int) ([]openproject.Type, error)
	GetSchema(ctx context.Context, projectID, typeID int) (*openproject.SchemaDoc, error)
}

// Schema holds the field definitions for one (project, type) pair.
type Schema struct {
	ProjectID int
	TypeID    int

	fields map[string]openproject.SchemaField
}

func NewSchema(projectID, typeID int, fields map[string]openproject.SchemaField) *Schema {
	cp := make(map[string]openproject.SchemaField, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return &Schema{ProjectID: projectID, TypeID: typeID, fields: cp}
}

func (s *Schema) Field(key string) (openproject.SchemaField, bool) {
	f, ok := s.fields[key]
	return f, ok
}

// Declares reports whether the schema has a field with the given key.
func (s *Schema) Declares(key string) bool {
	_, ok := s.fields[key]
	return ok
}

func (s *Schema) Writable(key string) bool {
	f, ok := s.fields[key]
	return ok && f.Writable
}

type Resolver struct {
	src   Source
	log   logx.Logger
	names *Names

	projects *memo.Memo[[]openproject.Project]
	types    *memo.Memo[[]openproject.Type]
	schemas  *memo.Memo[*Schema]
}

func NewResolver(src Source, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{
		src:      src,
		log:      log.With(logx.String("component", "schema")),
		names:    NewNames(),
		projects: memo.New[[]openproject.Project](),
		types:    memo.New[[]openproject.Type](),
		schemas:  memo.New[*Schema](),
	}
}

func (r *Resolver) Names() *Names { return r.names }

// Key returns the API key of a field display name.
func (r *Resolver) Key(name string) (string, error) { return r.names.Key(name) }

func (r *Resolver) Projects(ctx context.Context) ([]openproject.Project, error) {
	return r.projects.Get(ctx, memo.Key("projects"), func(ctx context.Context) ([]openproject.Project, error) {
		ps, err := r.src.ListProjects(ctx)
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		r.log.Debug("projects resolved", logx.Int("count", len(ps)))
		return ps, nil
	})
}

func (r *Resolver) Types(ctx context.Context, projectID int) ([]openproject.Type, error) {
	return r.types.Get(ctx, memo.Key("types", projectID), func(ctx context.Context) ([]openproject.Type, error) {
		ts, err := r.src.ListTypes(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("list types of project %d: %w", projectID, err)
		}
		return ts, nil
	})
}

// Schema resolves the schema of (projectID, typeID). The first resolution of
// any schema registers its field display names.
func (r *Resolver) Schema(ctx context.Context, projectID, typeID int) (*Schema, error) {
	return r.schemas.Get(ctx, memo.Key("schema", projectID, typeID), func(ctx context.Context) (*Schema, error) {
		doc, err := r.src.GetSchema(ctx, projectID, typeID)
		if err != nil {
			return nil, fmt.Errorf("schema %d-%d: %w", projectID, typeID, err)
		}
		s := NewSchema(projectID, typeID, doc.Fields)
		added := r.registerNames(s)
		r.log.Debug("schema resolved",
			logx.Int("project_id", projectID),
			logx.Int("type_id", typeID),
			logx.Int("fields", len(s.fields)),
			logx.Int("names_added", added),
		)
		return s, nil
	})
}

func (r *Resolver) registerNames(s *Schema) int {
	added := 0
	for key, f := range s.fields {
		if IsCustomKey(key) {
			if r.names.register(f.Name, key) {
				added++
			}
			continue
		}
		r.names.register(key, key)
	}
	return added
}
