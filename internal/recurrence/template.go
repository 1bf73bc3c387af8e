package recurrence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"wprecur/internal/openproject"
	"wprecur/internal/schema"
)

// Policy is the value of the "Auto Scheduling Algorithm" field.
type Policy string

const (
	FixedDelay       Policy = "Fixed Delay"
	FixedInterval    Policy = "Fixed Interval"
	FixedDayOfMonth  Policy = "Fixed Day Of Month"
	FixedDayOfYear   Policy = "Fixed Day Of Year"
	WeatherDependent Policy = "Weather Dependent"
)

// Policies lists every known policy in evaluation order.
var Policies = []Policy{FixedDelay, FixedInterval, FixedDayOfMonth, FixedDayOfYear, WeatherDependent}

// Display names of the fields templates are configured with.
const (
	FieldPolicy          = "Auto Scheduling Algorithm"
	FieldInterval        = "Interval/Day Of Month"
	FieldTargetProject   = "Target Project"
	FieldIntervalStart   = "Interval Start Date"
	FieldWeatherCodes    = "Weather Codes"
	FieldWeatherDetected = "Weather Detected"
)

// Fields resolves field display names to API keys.
type Fields interface {
	Key(name string) (string, error)
}

// Template is a work package read through a display-name lookup table.
type Template struct {
	WP     *openproject.WorkPackage
	fields Fields
}

func NewTemplate(wp *openproject.WorkPackage, fields Fields) Template {
	return Template{WP: wp, fields: fields}
}

func (t Template) ID() int { return t.WP.ID }

// Policy returns the template's policy label, or "" if it has none.
func (t Template) Policy() Policy {
	s, err := t.LinkTitle(FieldPolicy)
	if err != nil {
		return ""
	}
	return Policy(strings.TrimSpace(s))
}

// raw returns the JSON value of a field, looking at properties first and
// then at links.
func (t Template) raw(name string) (json.RawMessage, openproject.Link, error) {
	key, err := t.fields.Key(name)
	if err != nil {
		return nil, openproject.Link{}, err
	}
	if v, ok := t.WP.Prop(key); ok {
		return v, openproject.Link{}, nil
	}
	if l, ok := t.WP.Link(key); ok {
		return nil, l, nil
	}
	return nil, openproject.Link{}, fmt.Errorf("%w: %s is not set", ErrInvalidConfig, name)
}

// LinkTitle returns the title of a link-valued field (list custom fields,
// project references).
func (t Template) LinkTitle(name string) (string, error) {
	v, l, err := t.raw(name)
	if err != nil {
		return "", err
	}
	if v != nil {
		var s string
		if json.Unmarshal(v, &s) == nil && s != "" {
			return s, nil
		}
		return "", fmt.Errorf("%w: %s is not a link", ErrInvalidConfig, name)
	}
	if l.Title == "" {
		return "", fmt.Errorf("%w: %s has no title", ErrInvalidConfig, name)
	}
	return l.Title, nil
}

// Int returns an integer field. Numeric strings are accepted.
func (t Template) Int(name string) (int, error) {
	v, l, err := t.raw(name)
	if err != nil {
		return 0, err
	}
	s := l.Title
	if v != nil {
		v = bytes.TrimSpace(v)
		var n json.Number
		if json.Unmarshal(v, &n) == nil {
			s = n.String()
		} else {
			var str string
			if json.Unmarshal(v, &str) != nil {
				return 0, fmt.Errorf("%w: %s = %s is not numeric", ErrInvalidConfig, name, v)
			}
			s = str
		}
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %s = %q is not an integer", ErrInvalidConfig, name, s)
	}
	return n, nil
}

// String returns a text field. Formattable (rich text) values yield their raw text.
func (t Template) String(name string) (string, error) {
	v, l, err := t.raw(name)
	if err != nil {
		return "", err
	}
	if v == nil {
		return l.Title, nil
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s, nil
	}
	var f struct {
		Raw string `json:"raw"`
	}
	if json.Unmarshal(v, &f) == nil {
		return f.Raw, nil
	}
	return "", fmt.Errorf("%w: %s is not text", ErrInvalidConfig, name)
}

// Date returns a date field.
func (t Template) Date(name string) (openproject.Date, error) {
	v, _, err := t.raw(name)
	if err != nil {
		return openproject.Date{}, err
	}
	var d openproject.Date
	if v == nil || json.Unmarshal(v, &d) != nil || d.IsZero() {
		return openproject.Date{}, fmt.Errorf("%w: %s is not a date", ErrInvalidConfig, name)
	}
	return d, nil
}

// Flag returns a boolean field. An unset flag reads as false; a field the
// schemas do not declare is an error.
func (t Template) Flag(name string) (bool, error) {
	v, _, err := t.raw(name)
	if err != nil {
		if errors.Is(err, schema.ErrUnknownField) {
			return false, err
		}
		return false, nil
	}
	var b bool
	if v == nil || json.Unmarshal(v, &b) != nil {
		return false, fmt.Errorf("%w: %s is not a boolean", ErrInvalidConfig, name)
	}
	return b, nil
}
