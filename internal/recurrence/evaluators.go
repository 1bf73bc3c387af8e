package recurrence

import (
	"context"

	"wprecur/internal/openproject"
	logx "wprecur/pkg/logx"
)

// Evaluator decides, for every template of its policy in a batch, whether a
// new instance is due.
type Evaluator interface {
	Policy() Policy
	Evaluate(ctx context.Context, today openproject.Date, batch []Template) ([]Decision, error)
}

// dueFunc computes a template's next due date under one policy.
type dueFunc func(today openproject.Date, t Template) (openproject.Date, error)

// dateEvaluator implements the four calendar policies. They differ only in
// the due date rule and in whether the guard matches on date.
type dateEvaluator struct {
	policy    Policy
	due       dueFunc
	matchDate bool
	guard     *Guard
	log       logx.Logger
}

func newDateEvaluator(p Policy, due dueFunc, matchDate bool, guard *Guard, log logx.Logger) *dateEvaluator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &dateEvaluator{
		policy:    p,
		due:       due,
		matchDate: matchDate,
		guard:     guard,
		log:       log.With(logx.String("component", "evaluator"), logx.String("policy", string(p))),
	}
}

// NewFixedDelay: due = today + interval. The guard treats any open
// duplicate as satisfying the template, whatever its date.
func NewFixedDelay(guard *Guard, log logx.Logger) Evaluator {
	return newDateEvaluator(FixedDelay, func(today openproject.Date, t Template) (openproject.Date, error) {
		n, err := t.Int(FieldInterval)
		if err != nil {
			return openproject.Date{}, err
		}
		return NextFixedDelay(today, n)
	}, false, guard, log)
}

// NewFixedInterval: next point of the start + k*interval grid after today.
// The grid starts at the template's start date, or at "Interval Start Date"
// when the template has none.
func NewFixedInterval(guard *Guard, log logx.Logger) Evaluator {
	return newDateEvaluator(FixedInterval, func(today openproject.Date, t Template) (openproject.Date, error) {
		n, err := t.Int(FieldInterval)
		if err != nil {
			return openproject.Date{}, err
		}
		start := t.WP.StartDate
		if start.IsZero() {
			if start, err = t.Date(FieldIntervalStart); err != nil {
				return openproject.Date{}, err
			}
		}
		return NextFixedInterval(today, start, n)
	}, true, guard, log)
}

func NewFixedDayOfMonth(guard *Guard, log logx.Logger) Evaluator {
	return newDateEvaluator(FixedDayOfMonth, func(today openproject.Date, t Template) (openproject.Date, error) {
		day, err := t.Int(FieldInterval)
		if err != nil {
			return openproject.Date{}, err
		}
		return NextDayOfMonth(today, day)
	}, true, guard, log)
}

// NewFixedDayOfYear anchors on the template's due date (start date if unset).
func NewFixedDayOfYear(guard *Guard, log logx.Logger) Evaluator {
	return newDateEvaluator(FixedDayOfYear, func(today openproject.Date, t Template) (openproject.Date, error) {
		anchor := t.WP.DueDate
		if anchor.IsZero() {
			anchor = t.WP.StartDate
		}
		return NextDayOfYear(today, anchor)
	}, true, guard, log)
}

func (e *dateEvaluator) Policy() Policy { return e.policy }

func (e *dateEvaluator) Evaluate(ctx context.Context, today openproject.Date, batch []Template) ([]Decision, error) {
	ts := ofPolicy(batch, e.policy)
	if len(ts) == 0 {
		return nil, nil
	}

	out := make([]Decision, 0, len(ts))
	dues := make(map[int]openproject.Date, len(ts))
	var pending []Template
	var cands []Candidate
	for _, t := range ts {
		d, err := e.due(today, t)
		if err != nil {
			e.log.Warn("template skipped", logx.Int("template_id", t.ID()), logx.Err(err))
			out = append(out, NoAction{Template: t, Policy: e.policy, Reason: ReasonInvalid})
			continue
		}
		dues[t.ID()] = d
		pending = append(pending, t)
		c := Candidate{TemplateID: t.ID()}
		if e.matchDate {
			c.Due = d
		}
		cands = append(cands, c)
	}
	if len(pending) == 0 {
		return out, nil
	}

	satisfied, err := e.guard.Satisfied(ctx, cands)
	if err != nil {
		return nil, err
	}
	for _, t := range pending {
		if dups := satisfied[t.ID()]; len(dups) > 0 {
			e.log.Debug("template satisfied", logx.Int("template_id", t.ID()), logx.Ints("duplicates", dups))
			out = append(out, NoAction{Template: t, Policy: e.policy, Reason: ReasonSatisfied})
			continue
		}
		due := dues[t.ID()]
		e.log.Info("clone due", logx.Int("template_id", t.ID()), logx.String("due", due.String()))
		out = append(out, CloneOnly{Clone: newClone(t, e.policy, due)})
	}
	return out, nil
}

func ofPolicy(batch []Template, p Policy) []Template {
	var out []Template
	for _, t := range batch {
		if t.Policy() == p {
			out = append(out, t)
		}
	}
	return out
}
