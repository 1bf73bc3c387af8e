package openproject

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const apiPrefix = "/api/v3/"

type Project struct {
	ID         int    `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
}

// Type is a work package type (Task, Milestone, ...).
type Type struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Link is a single HAL link.
type Link struct {
	Href  string `json:"href,omitempty"`
	Title string `json:"title,omitempty"`
}

// ID returns the trailing numeric id of the link target.
func (l Link) ID() (int, bool) { return hrefID(l.Href) }

func hrefID(href string) (int, bool) {
	href = strings.TrimRight(strings.TrimSpace(href), "/")
	i := strings.LastIndexByte(href, '/')
	if i < 0 || i == len(href)-1 {
		return 0, false
	}
	n, err := strconv.Atoi(href[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

func WorkPackageHref(id int) string { return fmt.Sprintf("%swork_packages/%d", apiPrefix, id) }
func ProjectHref(id int) string     { return fmt.Sprintf("%sprojects/%d", apiPrefix, id) }
func TypeHref(id int) string        { return fmt.Sprintf("%stypes/%d", apiPrefix, id) }

// WorkPackage is a work package as returned by the API.
//
// Every top-level property and every link is retained verbatim so a clone can
// inherit fields this package does not model.
type WorkPackage struct {
	ID          int
	Subject     string
	LockVersion int
	StartDate   Date
	DueDate     Date

	props map[string]json.RawMessage // top-level properties except _links and _embedded
	links map[string]json.RawMessage
}

func (w *WorkPackage) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var hdr struct {
		ID          int    `json:"id"`
		Subject     string `json:"subject"`
		LockVersion int    `json:"lockVersion"`
		StartDate   Date   `json:"startDate"`
		DueDate     Date   `json:"dueDate"`
		Date        Date   `json:"date"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return err
	}

	w.ID = hdr.ID
	w.Subject = hdr.Subject
	w.LockVersion = hdr.LockVersion
	w.StartDate = hdr.StartDate
	w.DueDate = hdr.DueDate
	// Milestones carry a single "date".
	if w.StartDate.IsZero() && w.DueDate.IsZero() && !hdr.Date.IsZero() {
		w.StartDate, w.DueDate = hdr.Date, hdr.Date
	}

	w.links = map[string]json.RawMessage{}
	if lb, ok := raw["_links"]; ok && !isNull(lb) {
		if err := json.Unmarshal(lb, &w.links); err != nil {
			return fmt.Errorf("work package %d: _links: %w", w.ID, err)
		}
	}
	delete(raw, "_links")
	delete(raw, "_embedded")
	w.props = raw
	return nil
}

// Prop returns the raw JSON of a top-level property.
func (w *WorkPackage) Prop(key string) (json.RawMessage, bool) {
	v, ok := w.props[key]
	if !ok || isNull(v) {
		return nil, false
	}
	return v, true
}

// Link returns a single-valued link. Multi-valued links and null links
// report false.
func (w *WorkPackage) Link(key string) (Link, bool) {
	v, ok := w.links[key]
	if !ok || isNull(v) {
		return Link{}, false
	}
	var l Link
	if err := json.Unmarshal(v, &l); err != nil {
		return Link{}, false
	}
	if l.Href == "" && l.Title == "" {
		return Link{}, false
	}
	return l, true
}

func (w *WorkPackage) ProjectID() (int, bool) {
	l, ok := w.Link("project")
	if !ok {
		return 0, false
	}
	return l.ID()
}

func (w *WorkPackage) TypeID() (int, bool) {
	l, ok := w.Link("type")
	if !ok {
		return 0, false
	}
	return l.ID()
}

// Payload returns a deep copy of the work package as a write payload.
func (w *WorkPackage) Payload() Payload {
	p := Payload{}
	for k, v := range w.props {
		p[k] = append(json.RawMessage(nil), v...)
	}
	links := map[string]any{}
	for k, v := range w.links {
		links[k] = append(json.RawMessage(nil), v...)
	}
	p[linksKey] = links
	return p
}

// NewWorkPackage builds a WorkPackage from a JSON object. Intended for tests
// and fixtures.
func NewWorkPackage(b []byte) (*WorkPackage, error) {
	var w WorkPackage
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

const linksKey = "_links"

// Payload is the body of a create or update request.
//
// Top-level keys are properties; "_links" holds link properties.
type Payload map[string]any

// Links returns the link map, creating it if needed.
func (p Payload) Links() map[string]any {
	if l, ok := p[linksKey].(map[string]any); ok {
		return l
	}
	l := map[string]any{}
	p[linksKey] = l
	return l
}

func (p Payload) SetLink(key, href string) {
	p.Links()[key] = Link{Href: href}
}

// Keys returns the top-level property keys, excluding "_links".
func (p Payload) Keys() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		if k != linksKey {
			out = append(out, k)
		}
	}
	return out
}

// Relation is a relation between two work packages.
type Relation struct {
	ID   int
	Type string
	From int
	To   int
}

func (r *Relation) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID    int    `json:"id"`
		Type  string `json:"type"`
		Links struct {
			From Link `json:"from"`
			To   Link `json:"to"`
		} `json:"_links"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.ID = raw.ID
	r.Type = raw.Type
	r.From, _ = raw.Links.From.ID()
	r.To, _ = raw.Links.To.ID()
	return nil
}

// RelationDuplicates links a clone (from) to its template (to).
const RelationDuplicates = "duplicates"

// SchemaField is one field definition of a work package schema.
type SchemaField struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Writable bool   `json:"writable"`
	Required bool   `json:"required"`
	Location string `json:"location,omitempty"` // "_links" for link-valued properties
}

// InLinks reports whether the field is written under "_links".
func (f SchemaField) InLinks() bool { return f.Location == linksKey }

// SchemaDoc is the decoded body of a work package schema.
type SchemaDoc struct {
	ProjectID int
	TypeID    int
	Fields    map[string]SchemaField
}

func decodeSchema(projectID, typeID int, b []byte) (*SchemaDoc, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	doc := &SchemaDoc{ProjectID: projectID, TypeID: typeID, Fields: map[string]SchemaField{}}
	for k, v := range raw {
		if strings.HasPrefix(k, "_") {
			continue
		}
		v = bytes.TrimSpace(v)
		if len(v) == 0 || v[0] != '{' {
			continue
		}
		var f SchemaField
		if err := json.Unmarshal(v, &f); err != nil {
			return nil, fmt.Errorf("schema %d-%d: field %s: %w", projectID, typeID, k, err)
		}
		doc.Fields[k] = f
	}
	return doc, nil
}

func isNull(b json.RawMessage) bool {
	return len(bytes.TrimSpace(b)) == 0 || bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}
