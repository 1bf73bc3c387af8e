package recurrence

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"wprecur/internal/openproject"
	logx "wprecur/pkg/logx"
)

const (
	// SamplesPerDay is the number of forecast samples per day (15 minute steps).
	SamplesPerDay = 96
	// MaxForecastDays is the longest horizon the forecast feed serves.
	MaxForecastDays = 16
)

// Forecaster returns weather codes at 15 minute resolution starting now.
type Forecaster interface {
	Forecast(ctx context.Context, days int) ([]int, error)
}

// CodeRange is an inclusive range of weather codes.
type CodeRange struct {
	Lo, Hi int
}

func (r CodeRange) Contains(code int) bool { return code >= r.Lo && code <= r.Hi }

// ParseCodeRanges parses "a-b,c,..." into inclusive ranges.
func ParseCodeRanges(s string) ([]CodeRange, error) {
	var out []CodeRange
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("%w: weather code %q", ErrInvalidConfig, part)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, fmt.Errorf("%w: weather code range %q", ErrInvalidConfig, part)
			}
		}
		if b < a {
			return nil, fmt.Errorf("%w: weather code range %q is reversed", ErrInvalidConfig, part)
		}
		out = append(out, CodeRange{Lo: a, Hi: b})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no weather codes configured", ErrInvalidConfig)
	}
	return out, nil
}

// FirstMatch returns the index of the first code inside any range, or -1.
func FirstMatch(codes []int, ranges []CodeRange) int {
	for i, c := range codes {
		for _, r := range ranges {
			if r.Contains(c) {
				return i
			}
		}
	}
	return -1
}

// WeatherEvaluator fires a clone when a template's forecast condition turns
// from not detected to detected.
//
// The last computed condition is stored on the template ("Weather Detected")
// whenever it changes, in both directions; a clone is requested only on the
// rising edge. No date-based duplicate check applies.
type WeatherEvaluator struct {
	forecast Forecaster
	log      logx.Logger
}

func NewWeather(f Forecaster, log logx.Logger) *WeatherEvaluator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &WeatherEvaluator{
		forecast: f,
		log:      log.With(logx.String("component", "evaluator"), logx.String("policy", string(WeatherDependent))),
	}
}

func (e *WeatherEvaluator) Policy() Policy { return WeatherDependent }

type weatherTemplate struct {
	t      Template
	days   int
	ranges []CodeRange
	prev   bool
}

func (e *WeatherEvaluator) Evaluate(ctx context.Context, today openproject.Date, batch []Template) ([]Decision, error) {
	ts := ofPolicy(batch, WeatherDependent)
	if len(ts) == 0 {
		return nil, nil
	}

	var out []Decision
	var ready []weatherTemplate
	daysOut := 0
	for _, t := range ts {
		wt, err := readWeatherTemplate(t)
		if err != nil {
			e.log.Warn("template skipped", logx.Int("template_id", t.ID()), logx.Err(err))
			out = append(out, NoAction{Template: t, Policy: WeatherDependent, Reason: ReasonInvalid})
			continue
		}
		daysOut = max(daysOut, wt.days)
		ready = append(ready, wt)
	}
	if len(ready) == 0 {
		return out, nil
	}

	codes, err := e.forecast.Forecast(ctx, daysOut)
	if err != nil {
		return nil, fmt.Errorf("forecast %d days: %w", daysOut, err)
	}

	for _, wt := range ready {
		n := min(wt.days*SamplesPerDay, len(codes))
		idx := FirstMatch(codes[:n], wt.ranges)
		detected := idx >= 0
		log := e.log.With(logx.Int("template_id", wt.t.ID()), logx.Bool("prev", wt.prev), logx.Bool("detected", detected))

		switch {
		case detected && !wt.prev:
			due := today.AddDays(idx / SamplesPerDay)
			log.Info("condition detected; clone due", logx.String("due", due.String()))
			out = append(out, CloneAndUpdate{
				Clone:  newClone(wt.t, WeatherDependent, due),
				Update: newUpdate(wt.t, map[string]any{FieldWeatherDetected: true}),
			})
		case !detected && wt.prev:
			log.Info("condition cleared")
			out = append(out, UpdateOnly{Update: newUpdate(wt.t, map[string]any{FieldWeatherDetected: false})})
		case detected:
			out = append(out, NoAction{Template: wt.t, Policy: WeatherDependent, Reason: ReasonUnchanged})
		default:
			out = append(out, NoAction{Template: wt.t, Policy: WeatherDependent, Reason: ReasonNotDetected})
		}
	}
	return out, nil
}

func readWeatherTemplate(t Template) (weatherTemplate, error) {
	days, err := t.Int(FieldInterval)
	if err != nil {
		return weatherTemplate{}, err
	}
	if days < 0 {
		return weatherTemplate{}, fmt.Errorf("%w: forecast days must be >= 0, got %d", ErrInvalidConfig, days)
	}
	days = min(days, MaxForecastDays)
	raw, err := t.String(FieldWeatherCodes)
	if err != nil {
		return weatherTemplate{}, err
	}
	ranges, err := ParseCodeRanges(raw)
	if err != nil {
		return weatherTemplate{}, err
	}
	prev, err := t.Flag(FieldWeatherDetected)
	if err != nil {
		return weatherTemplate{}, err
	}
	return weatherTemplate{t: t, days: days, ranges: ranges, prev: prev}, nil
}
