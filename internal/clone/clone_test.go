package clone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"wprecur/internal/openproject"
	"wprecur/internal/recurrence"
	"wprecur/internal/schema"
	logx "wprecur/pkg/logx"
)

type fakeCatalog struct {
	keys     map[string]string
	projects []openproject.Project
	schemas  map[[2]int]*schema.Schema
}

func (c *fakeCatalog) Key(name string) (string, error) {
	if k, ok := c.keys[name]; ok {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", schema.ErrUnknownField, name)
}

func (c *fakeCatalog) Projects(ctx context.Context) ([]openproject.Project, error) {
	return c.projects, nil
}

func (c *fakeCatalog) Schema(ctx context.Context, projectID, typeID int) (*schema.Schema, error) {
	s, ok := c.schemas[[2]int{projectID, typeID}]
	if !ok {
		return nil, fmt.Errorf("schema %d-%d: %w", projectID, typeID, openproject.ErrNotFound)
	}
	return s, nil
}

type relation struct{ from, to int }

type fakeWriter struct {
	mu        sync.Mutex
	nextID    int
	created   []openproject.Payload
	createdIn []int
	relations []relation
	updates   map[int]openproject.Payload
	relErr    error
	updErr    error
}

func (w *fakeWriter) CreateWorkPackage(ctx context.Context, projectID int, p openproject.Payload, notify bool) (*openproject.WorkPackage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	w.created = append(w.created, p)
	w.createdIn = append(w.createdIn, projectID)
	return &openproject.WorkPackage{ID: 1000 + w.nextID}, nil
}

func (w *fakeWriter) CreateRelation(ctx context.Context, from, to int, relType string) (*openproject.Relation, error) {
	if w.relErr != nil {
		return nil, w.relErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.relations = append(w.relations, relation{from, to})
	return &openproject.Relation{Type: relType, From: from, To: to}, nil
}

func (w *fakeWriter) UpdateWorkPackage(ctx context.Context, id int, p openproject.Payload, notify bool) (*openproject.WorkPackage, error) {
	if w.updErr != nil {
		return nil, w.updErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.updates == nil {
		w.updates = map[int]openproject.Payload{}
	}
	w.updates[id] = p
	return &openproject.WorkPackage{ID: id, LockVersion: 4}, nil
}

func field(writable bool) openproject.SchemaField {
	return openproject.SchemaField{Writable: writable}
}

func linkField(writable bool) openproject.SchemaField {
	return openproject.SchemaField{Writable: writable, Location: "_links"}
}

func newCatalog() *fakeCatalog {
	return &fakeCatalog{
		keys: map[string]string{
			recurrence.FieldPolicy:          "customField1",
			recurrence.FieldTargetProject:   "customField3",
			recurrence.FieldWeatherDetected: "customField6",
			"Assignee":                      "assignee",
			"subject":                       "subject",
		},
		projects: []openproject.Project{
			{ID: 1, Name: "Templates", Active: true},
			{ID: 5, Name: "Ops", Active: true},
			{ID: 6, Name: "Ops", Active: true},
		},
		schemas: map[[2]int]*schema.Schema{
			{1, 2}: schema.NewSchema(1, 2, map[string]openproject.SchemaField{
				"subject":      field(true),
				"lockVersion":  field(false),
				"customField1": linkField(true),
				"customField3": linkField(true),
				"customField6": field(true),
				"customField8": field(false),
				"assignee":     linkField(true),
			}),
			{5, 2}: schema.NewSchema(5, 2, map[string]openproject.SchemaField{
				"id":          field(false),
				"lockVersion": field(false),
				"subject":     field(true),
				"description": field(true),
				"startDate":   field(true),
				"dueDate":     field(true),
				"project":     linkField(true),
				"type":        linkField(true),
				"status":      linkField(true),
				"assignee":    linkField(true),
			}),
		},
	}
}

const templateJSON = `{
	"id": 10,
	"subject": "Water plants",
	"lockVersion": 3,
	"startDate": "2024-01-01",
	"dueDate": "2024-01-03",
	"description": {"format": "markdown", "raw": "all of them"},
	"createdAt": "2024-01-01T00:00:00Z",
	"_links": {
		"self": {"href": "/api/v3/work_packages/10"},
		"project": {"href": "/api/v3/projects/1"},
		"type": {"href": "/api/v3/types/2"},
		"status": {"href": "/api/v3/statuses/1"},
		"customField1": {"href": "/api/v3/custom_options/1", "title": "Fixed Delay"},
		"customField3": {"href": "/api/v3/custom_options/9", "title": "Ops"}
	}
}`

func template(t *testing.T, cat *fakeCatalog, raw string) recurrence.Template {
	t.Helper()
	wp, err := openproject.NewWorkPackage([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	return recurrence.NewTemplate(wp, cat)
}

// asJSON normalizes a payload the way it goes over the wire.
func asJSON(t *testing.T, p openproject.Payload) map[string]any {
	t.Helper()
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestCreateCopiesIntoTargetProject(t *testing.T) {
	t.Parallel()
	cat, w := newCatalog(), &fakeWriter{}
	o := NewOrchestrator(cat, w, false, logx.Nop())

	c, err := o.Create(context.Background(), recurrence.CloneRequest{
		Template:  template(t, cat, templateJSON),
		Policy:    recurrence.FixedDelay,
		StartDate: openproject.NewDate(2024, 6, 4),
		DueDate:   openproject.NewDate(2024, 6, 6),
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.ProjectID != 5 || c.WorkPackage.ID != 1001 || c.TemplateID != 10 {
		t.Fatalf("created = %+v", c)
	}
	if len(w.created) != 1 || w.createdIn[0] != 5 {
		t.Fatalf("creates = %v in %v", len(w.created), w.createdIn)
	}

	want := map[string]any{
		"subject":     "Water plants",
		"description": map[string]any{"format": "markdown", "raw": "all of them"},
		"startDate":   "2024-06-04",
		"dueDate":     "2024-06-06",
		"_links": map[string]any{
			"project": map[string]any{"href": "/api/v3/projects/5"},
			"type":    map[string]any{"href": "/api/v3/types/2"},
			"status":  map[string]any{"href": "/api/v3/statuses/1"},
		},
	}
	if diff := cmp.Diff(want, asJSON(t, w.created[0])); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	if len(w.relations) != 1 || w.relations[0] != (relation{from: 1001, to: 10}) {
		t.Fatalf("relations = %v", w.relations)
	}
}

func TestCreateAppliesOverrides(t *testing.T) {
	t.Parallel()
	cat, w := newCatalog(), &fakeWriter{}
	o := NewOrchestrator(cat, w, false, logx.Nop())
	_, err := o.Create(context.Background(), recurrence.CloneRequest{
		Template:  template(t, cat, templateJSON),
		DueDate:   openproject.NewDate(2024, 6, 6),
		Overrides: map[string]any{"subject": "Water plants (June)", "Assignee": "/api/v3/users/7"},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := asJSON(t, w.created[0])
	if got["subject"] != "Water plants (June)" {
		t.Fatalf("subject = %v", got["subject"])
	}
	links := got["_links"].(map[string]any)
	if diff := cmp.Diff(map[string]any{"href": "/api/v3/users/7"}, links["assignee"]); diff != "" {
		t.Fatalf("assignee mismatch:\n%s", diff)
	}
}

func TestCreateUnknownTargetProject(t *testing.T) {
	t.Parallel()
	cat, w := newCatalog(), &fakeWriter{}
	cat.projects = cat.projects[:1]
	o := NewOrchestrator(cat, w, false, logx.Nop())
	_, err := o.Create(context.Background(), recurrence.CloneRequest{
		Template: template(t, cat, templateJSON),
		DueDate:  openproject.NewDate(2024, 6, 6),
	})
	if !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("err = %v, want ErrProjectNotFound", err)
	}
	if len(w.created) != 0 {
		t.Fatal("nothing must be created")
	}
}

func TestCreateSkipsArchivedTargetProject(t *testing.T) {
	t.Parallel()
	cat, w := newCatalog(), &fakeWriter{}
	cat.projects = []openproject.Project{
		{ID: 1, Name: "Templates", Active: true},
		{ID: 4, Name: "Ops", Active: false},
		{ID: 5, Name: "Ops", Active: true},
	}
	o := NewOrchestrator(cat, w, false, logx.Nop())
	c, err := o.Create(context.Background(), recurrence.CloneRequest{
		Template: template(t, cat, templateJSON),
		DueDate:  openproject.NewDate(2024, 6, 6),
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.ProjectID != 5 || w.createdIn[0] != 5 {
		t.Fatalf("clone created in project %d, want active project 5", c.ProjectID)
	}

	cat.projects = cat.projects[:2]
	if _, err := o.Create(context.Background(), recurrence.CloneRequest{
		Template: template(t, cat, templateJSON),
		DueDate:  openproject.NewDate(2024, 6, 6),
	}); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("only archived match: err = %v, want ErrProjectNotFound", err)
	}
}

func TestCreateRelationFailureKeepsClone(t *testing.T) {
	t.Parallel()
	cat := newCatalog()
	w := &fakeWriter{relErr: &openproject.APIError{Status: 422}}
	o := NewOrchestrator(cat, w, false, logx.Nop())
	c, err := o.Create(context.Background(), recurrence.CloneRequest{
		Template: template(t, cat, templateJSON),
		DueDate:  openproject.NewDate(2024, 6, 6),
	})
	if !errors.Is(err, ErrRelation) {
		t.Fatalf("err = %v, want ErrRelation", err)
	}
	if c == nil || c.WorkPackage.ID != 1001 {
		t.Fatalf("created = %+v, want the unlinked clone", c)
	}
}

func TestUpdateSendsLockVersion(t *testing.T) {
	t.Parallel()
	cat, w := newCatalog(), &fakeWriter{}
	m := NewMutator(cat, w, false, logx.Nop())
	wp, err := m.Update(context.Background(), recurrence.UpdateRequest{
		Template:    template(t, cat, templateJSON),
		Overrides:   map[string]any{recurrence.FieldWeatherDetected: true},
		LockVersion: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if wp.LockVersion != 4 {
		t.Fatalf("lock version = %d", wp.LockVersion)
	}
	want := map[string]any{"customField6": true, "lockVersion": float64(3)}
	if diff := cmp.Diff(want, asJSON(t, w.updates[10])); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateConflictSurfaces(t *testing.T) {
	t.Parallel()
	cat := newCatalog()
	w := &fakeWriter{updErr: &openproject.APIError{Status: 409, Identifier: "UpdateConflict"}}
	m := NewMutator(cat, w, false, logx.Nop())
	_, err := m.Update(context.Background(), recurrence.UpdateRequest{
		Template:    template(t, cat, templateJSON),
		Overrides:   map[string]any{recurrence.FieldWeatherDetected: false},
		LockVersion: 2,
	})
	if !errors.Is(err, openproject.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestUpdateRejectsReadOnlyFields(t *testing.T) {
	t.Parallel()
	cat, w := newCatalog(), &fakeWriter{}
	cat.keys["Locked"] = "customField8"
	m := NewMutator(cat, w, false, logx.Nop())
	_, err := m.Update(context.Background(), recurrence.UpdateRequest{
		Template:  template(t, cat, templateJSON),
		Overrides: map[string]any{"Locked": 1},
	})
	if !errors.Is(err, ErrNotWritable) {
		t.Fatalf("err = %v, want ErrNotWritable", err)
	}
	if len(w.updates) != 0 {
		t.Fatal("no PATCH expected")
	}
}

func TestUpdateUnknownField(t *testing.T) {
	t.Parallel()
	cat, w := newCatalog(), &fakeWriter{}
	m := NewMutator(cat, w, false, logx.Nop())
	_, err := m.Update(context.Background(), recurrence.UpdateRequest{
		Template:  template(t, cat, templateJSON),
		Overrides: map[string]any{"Nope": 1},
	})
	if !errors.Is(err, schema.ErrUnknownField) {
		t.Fatalf("err = %v", err)
	}
}
