package run

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"wprecur/internal/openproject"
)

// fakeAPI is an in-memory OpenProject holding work packages as decoded JSON.
type fakeAPI struct {
	mu        sync.Mutex
	projects  []openproject.Project
	types     map[int][]openproject.Type
	schemas   map[[2]int]map[string]openproject.SchemaField
	wps       map[int]map[string]any
	relations []openproject.Relation
	nextID    int

	failProjects error
	conflictOn   map[int]bool
	writes       int
}

func newFakeAPI() *fakeAPI {
	task := openproject.Type{ID: 2, Name: "Task"}
	templateFields := map[string]openproject.SchemaField{
		"subject":      {Type: "String", Name: "Subject", Writable: true},
		"startDate":    {Type: "Date", Name: "Start date", Writable: true},
		"dueDate":      {Type: "Date", Name: "Finish date", Writable: true},
		"project":      {Type: "Project", Name: "Project", Writable: true, Location: "_links"},
		"type":         {Type: "Type", Name: "Type", Writable: true, Location: "_links"},
		"customField1": {Type: "CustomOption", Name: "Auto Scheduling Algorithm", Writable: true, Location: "_links"},
		"customField2": {Type: "Integer", Name: "Interval/Day Of Month", Writable: true},
		"customField3": {Type: "CustomOption", Name: "Target Project", Writable: true, Location: "_links"},
		"customField5": {Type: "String", Name: "Weather Codes", Writable: true},
		"customField6": {Type: "Boolean", Name: "Weather Detected", Writable: true},
	}
	targetFields := map[string]openproject.SchemaField{
		"subject":   {Type: "String", Name: "Subject", Writable: true},
		"startDate": {Type: "Date", Name: "Start date", Writable: true},
		"dueDate":   {Type: "Date", Name: "Finish date", Writable: true},
		"project":   {Type: "Project", Name: "Project", Writable: true, Location: "_links"},
		"type":      {Type: "Type", Name: "Type", Writable: true, Location: "_links"},
	}
	return &fakeAPI{
		projects: []openproject.Project{{ID: 1, Name: "Templates", Active: true}, {ID: 5, Name: "Ops", Active: true}},
		types:    map[int][]openproject.Type{1: {task}, 5: {task}},
		schemas:  map[[2]int]map[string]openproject.SchemaField{{1, 2}: templateFields, {5, 2}: targetFields},
		wps:      map[int]map[string]any{},
		nextID:   1000,
	}
}

// addTemplate stores a template in project 1. props are merged as top-level
// properties.
func (f *fakeAPI) addTemplate(id int, policy string, props map[string]any) {
	wp := map[string]any{
		"id":          float64(id),
		"subject":     fmt.Sprintf("Template %d", id),
		"lockVersion": float64(0),
		"_links": map[string]any{
			"project":      map[string]any{"href": openproject.ProjectHref(1)},
			"type":         map[string]any{"href": openproject.TypeHref(2)},
			"customField1": map[string]any{"href": "/api/v3/custom_options/1", "title": policy},
			"customField3": map[string]any{"href": "/api/v3/custom_options/2", "title": "Ops"},
		},
	}
	for k, v := range props {
		wp[k] = v
	}
	f.mu.Lock()
	f.wps[id] = wp
	f.mu.Unlock()
}

func (f *fakeAPI) get(id int) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wps[id]
}

func (f *fakeAPI) ListProjects(ctx context.Context) ([]openproject.Project, error) {
	if f.failProjects != nil {
		return nil, f.failProjects
	}
	return f.projects, nil
}

func (f *fakeAPI) ListTypes(ctx context.Context, projectID int) ([]openproject.Type, error) {
	return f.types[projectID], nil
}

func (f *fakeAPI) GetSchema(ctx context.Context, projectID, typeID int) (*openproject.SchemaDoc, error) {
	fs, ok := f.schemas[[2]int{projectID, typeID}]
	if !ok {
		return nil, openproject.ErrNotFound
	}
	return &openproject.SchemaDoc{ProjectID: projectID, TypeID: typeID, Fields: fs}, nil
}

func values(fs openproject.Filters, field string) ([]string, bool) {
	for _, c := range fs {
		if c.Field == field {
			return c.Values, true
		}
	}
	return nil, false
}

func linkID(wp map[string]any, name string) string {
	links, _ := wp["_links"].(map[string]any)
	l, _ := links[name].(map[string]any)
	href, _ := l["href"].(string)
	id, ok := (openproject.Link{Href: href}).ID()
	if !ok {
		return ""
	}
	return strconv.Itoa(id)
}

func (f *fakeAPI) duplicatesOf(from int) []string {
	var out []string
	for _, r := range f.relations {
		if r.From == from && r.Type == openproject.RelationDuplicates {
			out = append(out, strconv.Itoa(r.To))
		}
	}
	return out
}

func (f *fakeAPI) ListWorkPackages(ctx context.Context, fs openproject.Filters) ([]*openproject.WorkPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int, 0, len(f.wps))
	for id := range f.wps {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var out []*openproject.WorkPackage
	for _, id := range ids {
		wp := f.wps[id]
		if vs, ok := values(fs, "project"); ok && !slices.Contains(vs, linkID(wp, "project")) {
			continue
		}
		if vs, ok := values(fs, "type"); ok && !slices.Contains(vs, linkID(wp, "type")) {
			continue
		}
		if vs, ok := values(fs, "duplicates"); ok {
			hit := false
			for _, to := range f.duplicatesOf(id) {
				hit = hit || slices.Contains(vs, to)
			}
			if !hit {
				continue
			}
		}
		if vs, ok := values(fs, "dueDate"); ok {
			if due, _ := wp["dueDate"].(string); due != vs[0] {
				continue
			}
		}
		b, _ := json.Marshal(wp)
		w, err := openproject.NewWorkPackage(b)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (f *fakeAPI) ListRelations(ctx context.Context, fs openproject.Filters) ([]openproject.Relation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	to, _ := values(fs, "to")
	from, _ := values(fs, "from")
	var out []openproject.Relation
	for _, r := range f.relations {
		if slices.Contains(to, strconv.Itoa(r.To)) && slices.Contains(from, strconv.Itoa(r.From)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func decode(p openproject.Payload) map[string]any {
	b, _ := json.Marshal(p)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m
}

func (f *fakeAPI) CreateWorkPackage(ctx context.Context, projectID int, p openproject.Payload, notify bool) (*openproject.WorkPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.nextID++
	wp := decode(p)
	wp["id"] = float64(f.nextID)
	wp["lockVersion"] = float64(0)
	f.wps[f.nextID] = wp
	b, _ := json.Marshal(wp)
	return openproject.NewWorkPackage(b)
}

func (f *fakeAPI) CreateRelation(ctx context.Context, fromID, toID int, relType string) (*openproject.Relation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	r := openproject.Relation{ID: len(f.relations) + 1, Type: relType, From: fromID, To: toID}
	f.relations = append(f.relations, r)
	return &r, nil
}

func (f *fakeAPI) UpdateWorkPackage(ctx context.Context, id int, p openproject.Payload, notify bool) (*openproject.WorkPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	wp, ok := f.wps[id]
	if !ok {
		return nil, &openproject.APIError{Method: "PATCH", Status: 404}
	}
	body := decode(p)
	if f.conflictOn[id] || body["lockVersion"] != wp["lockVersion"] {
		return nil, &openproject.APIError{Method: "PATCH", Status: 409, Identifier: "UpdateConflict"}
	}
	for k, v := range body {
		if k == "_links" || k == "lockVersion" {
			continue
		}
		wp[k] = v
	}
	wp["lockVersion"] = wp["lockVersion"].(float64) + 1
	b, _ := json.Marshal(wp)
	return openproject.NewWorkPackage(b)
}

type fakeForecast struct{ codes []int }

func (f fakeForecast) Forecast(ctx context.Context, days int) ([]int, error) { return f.codes, nil }

type recordingObserver struct {
	mu   sync.Mutex
	runs []Summary
}

func (o *recordingObserver) RunFinished(ctx context.Context, s Summary) error {
	o.mu.Lock()
	o.runs = append(o.runs, s)
	o.mu.Unlock()
	return nil
}
