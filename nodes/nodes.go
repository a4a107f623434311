// Package nodes provides a small built-in capability set: state writes,
// comparisons, delays, logging, and test helpers. Business-logic nodes
// (database, HTTP, AI, messaging) are supplied by the embedding
// application, not by the engine.
package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jkoski/edgeflow/pkg/api"
)

// Outcome names shared by the built-in capabilities.
const (
	OutcomeSuccess = "success"
	OutcomeTrue    = "true"
	OutcomeFalse   = "false"
	OutcomeDone    = "done"
	OutcomeNext    = "next"
)

// All returns every built-in capability, ready for Registry.RegisterMany.
func All(logger *slog.Logger) []api.Capability {
	if logger == nil {
		logger = slog.Default()
	}
	return []api.Capability{
		Set{},
		Logic{},
		Delay{},
		Log{Logger: logger},
		Noop{},
		Fail{},
		Counter{},
	}
}

// Set writes its "$."-prefixed config entries into state and succeeds.
type Set struct{}

func (Set) Type() string { return "set" }

func (Set) Execute(ctx context.Context, ec *api.ExecutionContext) (api.Outcome, error) {
	ec.ApplyWrites()
	return api.Outcome{Name: OutcomeSuccess}, nil
}

// Logic compares two values and produces a "true" or "false" outcome.
//
// Config:
//
//	{"operation": "greater", "values": [a, b]}
//
// Operations: equal, notEqual, greater, greaterOrEqual, less, lessOrEqual.
// Values compare numerically when both sides parse as numbers, as strings
// otherwise.
type Logic struct{}

func (Logic) Type() string { return "logic" }

func (Logic) Execute(ctx context.Context, ec *api.ExecutionContext) (api.Outcome, error) {
	op := ec.ConfigString("operation", "")
	values, ok := ec.Config["values"].([]any)
	if !ok || len(values) != 2 {
		return api.Outcome{}, fmt.Errorf("logic node needs a values array of two entries")
	}

	result, err := compare(op, values[0], values[1])
	if err != nil {
		return api.Outcome{}, err
	}
	name := OutcomeFalse
	if result {
		name = OutcomeTrue
	}
	return api.Outcome{Name: name, Payload: result}, nil
}

func compare(op string, a, b any) (bool, error) {
	if fa, fb, ok := bothNumbers(a, b); ok {
		switch op {
		case "equal":
			return fa == fb, nil
		case "notEqual":
			return fa != fb, nil
		case "greater":
			return fa > fb, nil
		case "greaterOrEqual":
			return fa >= fb, nil
		case "less":
			return fa < fb, nil
		case "lessOrEqual":
			return fa <= fb, nil
		}
		return false, fmt.Errorf("unknown logic operation %q", op)
	}

	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch op {
	case "equal":
		return sa == sb, nil
	case "notEqual":
		return sa != sb, nil
	case "greater":
		return sa > sb, nil
	case "greaterOrEqual":
		return sa >= sb, nil
	case "less":
		return sa < sb, nil
	case "lessOrEqual":
		return sa <= sb, nil
	}
	return false, fmt.Errorf("unknown logic operation %q", op)
}

func bothNumbers(a, b any) (float64, float64, bool) {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	return fa, fb, okA && okB
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Delay sleeps for the configured duration and passes through.
//
// Config: {"duration": "250ms"}. It is context-aware: cancellation during
// the sleep returns ctx.Err and the node fails.
type Delay struct{}

func (Delay) Type() string { return "delay" }

func (Delay) Execute(ctx context.Context, ec *api.ExecutionContext) (api.Outcome, error) {
	d, err := time.ParseDuration(ec.ConfigString("duration", "0s"))
	if err != nil {
		return api.Outcome{}, fmt.Errorf("delay node: %w", err)
	}
	if d <= 0 {
		return api.Outcome{Name: OutcomeSuccess}, nil
	}
	select {
	case <-ctx.Done():
		return api.Outcome{}, ctx.Err()
	case <-time.After(d):
		return api.Outcome{Name: OutcomeSuccess}, nil
	}
}

// Log writes a structured log line and succeeds.
//
// Config: {"level": "info", "message": "..."}.
type Log struct {
	Logger *slog.Logger
}

func (Log) Type() string { return "log" }

func (l Log) Execute(ctx context.Context, ec *api.ExecutionContext) (api.Outcome, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	msg := ec.ConfigString("message", "")
	level := slog.LevelInfo
	switch ec.ConfigString("level", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warning", "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger.Log(ctx, level, msg, slog.String("run_id", ec.RunID), slog.String("node_id", ec.NodeID))
	return api.Outcome{Name: OutcomeSuccess}, nil
}

// Noop produces the configured outcome (default "success") without side
// effects. Useful as a routing placeholder.
type Noop struct{}

func (Noop) Type() string { return "noop" }

func (Noop) Execute(ctx context.Context, ec *api.ExecutionContext) (api.Outcome, error) {
	return api.Outcome{Name: ec.ConfigString("outcome", OutcomeSuccess)}, nil
}

// Fail always returns an error, exercising error? edges and fatal paths.
//
// Config: {"message": "..."}.
type Fail struct{}

func (Fail) Type() string { return "fail" }

func (Fail) Execute(ctx context.Context, ec *api.ExecutionContext) (api.Outcome, error) {
	return api.Outcome{}, fmt.Errorf("%s", ec.ConfigString("message", "fail node triggered"))
}

// Counter increments the state value at its "path" config entry and
// produces "done" once the value reaches "until", "next" before that.
// It exists mostly to exercise loop nodes.
type Counter struct{}

func (Counter) Type() string { return "counter" }

func (Counter) Execute(ctx context.Context, ec *api.ExecutionContext) (api.Outcome, error) {
	path := ec.ConfigString("path", "counter")

	current := 0
	if v, ok := ec.State.Get(path); ok {
		if f, isNum := toFloat(v); isNum {
			current = int(f)
		}
	}
	current++
	ec.State.Set(path, current)

	until := 0
	if f, ok := toFloat(ec.Config["until"]); ok {
		until = int(f)
	}
	if until > 0 && current >= until {
		return api.Outcome{Name: OutcomeDone, Payload: current}, nil
	}
	return api.Outcome{Name: OutcomeNext, Payload: current}, nil
}
