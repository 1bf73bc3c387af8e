// Package recurrence decides which templates receive a new instance.
//
// Five evaluators (four calendar policies and a forecast-driven trigger) run
// concurrently over the same template batch and each emits one Decision per
// template of its policy. Calendar policies consult the Guard so repeated
// runs never clone twice for the same due date.
package recurrence

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"wprecur/internal/openproject"
	logx "wprecur/pkg/logx"
)

type Engine struct {
	evaluators []Evaluator
	log        logx.Logger
}

// NewEngine wires the standard evaluators.
func NewEngine(q Querier, f Forecaster, log logx.Logger) *Engine {
	g := NewGuard(q, log)
	return NewEngineWith(log,
		NewFixedDelay(g, log),
		NewFixedInterval(g, log),
		NewFixedDayOfMonth(g, log),
		NewFixedDayOfYear(g, log),
		NewWeather(f, log),
	)
}

func NewEngineWith(log logx.Logger, evs ...Evaluator) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{evaluators: evs, log: log.With(logx.String("component", "engine"))}
}

// Evaluate runs every evaluator concurrently and merges their decisions in
// evaluator order. A failing evaluator cancels the others.
func (e *Engine) Evaluate(ctx context.Context, today openproject.Date, batch []Template) ([]Decision, error) {
	results := make([][]Decision, len(e.evaluators))

	start := time.Now()
	eg, egCtx := errgroup.WithContext(ctx)
	for i, ev := range e.evaluators {
		eg.Go(func() error {
			ds, err := ev.Evaluate(egCtx, today, batch)
			if err != nil {
				return fmt.Errorf("%s: %w", ev.Policy(), err)
			}
			results[i] = ds
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []Decision
	for _, ds := range results {
		out = append(out, ds...)
	}
	e.log.Debug("evaluation done",
		logx.Int("templates", len(batch)),
		logx.Int("decisions", len(out)),
		logx.Duration("took", time.Since(start)),
	)
	return out, nil
}
