package recurrence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"wprecur/internal/openproject"
	"wprecur/internal/schema"
)

// testFields maps display names to the keys used in fixtures.
type testFields map[string]string

func (f testFields) Key(name string) (string, error) {
	if k, ok := f[name]; ok {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", schema.ErrUnknownField, name)
}

var fields = testFields{
	FieldPolicy:          "customField1",
	FieldInterval:        "customField2",
	FieldTargetProject:   "customField3",
	FieldIntervalStart:   "customField4",
	FieldWeatherCodes:    "customField5",
	FieldWeatherDetected: "customField6",
}

// tmpl builds a template. props are extra top-level properties (raw JSON).
func tmpl(t *testing.T, id int, policy Policy, props map[string]string) Template {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, `{"id":%d,"subject":"T%d","lockVersion":1`, id, id)
	for k, v := range props {
		fmt.Fprintf(&b, `,%q:%s`, k, v)
	}
	fmt.Fprintf(&b, `,"_links":{"project":{"href":"/api/v3/projects/1"},"type":{"href":"/api/v3/types/1"},"customField1":{"href":"/api/v3/custom_options/1","title":%q}}}`, policy)
	wp, err := openproject.NewWorkPackage([]byte(b.String()))
	if err != nil {
		t.Fatalf("fixture %d: %v", id, err)
	}
	return NewTemplate(wp, fields)
}

type dup struct {
	id       int
	template int
	due      openproject.Date
}

// fakeQuerier answers the guard's two queries from a list of duplicates.
type fakeQuerier struct {
	mu      sync.Mutex
	dups    []dup
	wpCalls atomic.Int32
	fail    error
}

func filterValues(fs openproject.Filters, field string) ([]string, bool) {
	for _, f := range fs {
		if f.Field == field {
			return f.Values, true
		}
	}
	return nil, false
}

func atoiSet(vs []string) map[int]bool {
	out := map[int]bool{}
	for _, v := range vs {
		n, _ := strconv.Atoi(v)
		out[n] = true
	}
	return out
}

func (q *fakeQuerier) ListWorkPackages(ctx context.Context, fs openproject.Filters) ([]*openproject.WorkPackage, error) {
	q.wpCalls.Add(1)
	if q.fail != nil {
		return nil, q.fail
	}
	tv, _ := filterValues(fs, "duplicates")
	targets := atoiSet(tv)
	dv, hasDate := filterValues(fs, "dueDate")

	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*openproject.WorkPackage
	for _, d := range q.dups {
		if !targets[d.template] {
			continue
		}
		if hasDate && d.due.String() != dv[0] {
			continue
		}
		out = append(out, &openproject.WorkPackage{ID: d.id, DueDate: d.due})
	}
	return out, nil
}

func (q *fakeQuerier) ListRelations(ctx context.Context, fs openproject.Filters) ([]openproject.Relation, error) {
	tv, _ := filterValues(fs, "to")
	fv, _ := filterValues(fs, "from")
	to, from := atoiSet(tv), atoiSet(fv)

	q.mu.Lock()
	defer q.mu.Unlock()
	var out []openproject.Relation
	for _, d := range q.dups {
		if to[d.template] && from[d.id] {
			out = append(out, openproject.Relation{Type: openproject.RelationDuplicates, From: d.id, To: d.template})
		}
	}
	return out, nil
}

type fakeForecast struct {
	codes []int
	days  []int
	fail  error
}

func (f *fakeForecast) Forecast(ctx context.Context, days int) ([]int, error) {
	f.days = append(f.days, days)
	if f.fail != nil {
		return nil, f.fail
	}
	return f.codes, nil
}
