package openproject

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	return list[Project](ctx, c, "projects", nil)
}

func (c *Client) ListTypes(ctx context.Context, projectID int) ([]Type, error) {
	return list[Type](ctx, c, fmt.Sprintf("projects/%d/types", projectID), nil)
}

func (c *Client) GetSchema(ctx context.Context, projectID, typeID int) (*SchemaDoc, error) {
	var raw jsonBytes
	path := fmt.Sprintf("work_packages/schemas/%d-%d", projectID, typeID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeSchema(projectID, typeID, raw)
}

func (c *Client) ListWorkPackages(ctx context.Context, filters Filters) ([]*WorkPackage, error) {
	q, err := filterQuery(filters)
	if err != nil {
		return nil, err
	}
	return list[*WorkPackage](ctx, c, "work_packages", q)
}

func (c *Client) ListRelations(ctx context.Context, filters Filters) ([]Relation, error) {
	q, err := filterQuery(filters)
	if err != nil {
		return nil, err
	}
	return list[Relation](ctx, c, "relations", q)
}

// CreateWorkPackage creates a work package under projectID.
func (c *Client) CreateWorkPackage(ctx context.Context, projectID int, payload Payload, notify bool) (*WorkPackage, error) {
	q := url.Values{"notify": {strconv.FormatBool(notify)}}
	var out WorkPackage
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%d/work_packages", projectID), q, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateRelation creates a relation of relType from fromID to toID.
func (c *Client) CreateRelation(ctx context.Context, fromID, toID int, relType string) (*Relation, error) {
	body := map[string]any{
		"type": relType,
		"_links": map[string]any{
			"to": Link{Href: WorkPackageHref(toID)},
		},
	}
	var out Relation
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("work_packages/%d/relations", fromID), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateWorkPackage submits a partial update. The payload must carry
// "lockVersion"; a stale value fails with ErrConflict.
func (c *Client) UpdateWorkPackage(ctx context.Context, id int, payload Payload, notify bool) (*WorkPackage, error) {
	q := url.Values{"notify": {strconv.FormatBool(notify)}}
	var out WorkPackage
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("work_packages/%d", id), q, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func filterQuery(f Filters) (url.Values, error) {
	if len(f) == 0 {
		return nil, nil
	}
	enc, err := f.Encode()
	if err != nil {
		return nil, fmt.Errorf("openproject: encode filters: %w", err)
	}
	return url.Values{"filters": {enc}}, nil
}

// jsonBytes captures a response body verbatim.
type jsonBytes []byte

func (b *jsonBytes) UnmarshalJSON(p []byte) error {
	*b = append((*b)[:0], p...)
	return nil
}
