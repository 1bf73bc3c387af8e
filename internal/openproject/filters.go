package openproject

import (
	"encoding/json"
	"strconv"
)

// Filter operators used by this service.
const (
	OpEquals    = "="
	OpOpen      = "o"
	OpDateEqual = "=d"
)

// Filter is one clause of a filter expression.
//
// Values nil marshals to JSON null, which operators without operands
// (such as OpOpen) expect.
type Filter struct {
	Field    string
	Operator string
	Values   []string
}

// Filters is an ordered filter expression.
type Filters []Filter

func (f Filters) MarshalJSON() ([]byte, error) {
	type clause struct {
		Operator string   `json:"operator"`
		Values   []string `json:"values"`
	}
	out := make([]map[string]clause, 0, len(f))
	for _, c := range f {
		out = append(out, map[string]clause{c.Field: {Operator: c.Operator, Values: c.Values}})
	}
	return json.Marshal(out)
}

// Encode returns the value of the "filters" query parameter.
func (f Filters) Encode() (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func OpenStatus() Filter { return Filter{Field: "status_id", Operator: OpOpen} }

func Equals(field string, values ...string) Filter {
	return Filter{Field: field, Operator: OpEquals, Values: values}
}

func EqualsIDs(field string, ids ...int) Filter {
	return Equals(field, Itoas(ids)...)
}

func DateEquals(field string, d Date) Filter {
	return Filter{Field: field, Operator: OpDateEqual, Values: []string{d.String()}}
}

func Itoas(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.Itoa(id)
	}
	return out
}
