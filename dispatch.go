package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// errBadRequest marks validation failures that must be rejected at the
// boundary, before the pipeline runs.
var errBadRequest = errors.New("bad request")

// --- Prediction Types ---

// PredictRequest is the wire body of POST /api/predict/.
type PredictRequest struct {
	SessionHash string `json:"session_hash,omitempty"`
	ExampleID   *int   `json:"example_id,omitempty"`
	Data        []any  `json:"data"`
	State       any    `json:"state,omitempty"`
	FnIndex     int    `json:"fn_index,omitempty"`
	Cleared     bool   `json:"cleared,omitempty"`
}

// PredictResponse carries one output value per declared output
// component, in declared order.
type PredictResponse struct {
	Data       []any   `json:"data"`
	DurationMs float64 `json:"duration_ms,omitempty"`
}

// --- Pipeline ---

// Pipeline is the processing engine the server wraps. Process receives
// the request, the authenticated username (empty when auth is off) and
// the session state blob; it may read and mutate state in place.
type Pipeline interface {
	Process(ctx context.Context, req PredictRequest, username string, state map[int]any) ([]any, error)
}

// --- Dispatcher ---

// dispatcher resolves session state and forwards prediction requests to
// the pipeline. Concurrent pipeline calls are bounded by sem; callers
// beyond the bound queue implicitly on the channel.
type dispatcher struct {
	app      *AppConfig
	pipe     Pipeline
	sessions SessionStore
	sem      chan struct{}
}

func newDispatcher(app *AppConfig, pipe Pipeline, sessions SessionStore, maxConcurrent int) *dispatcher {
	return &dispatcher{
		app:      app,
		pipe:     pipe,
		sessions: sessions,
		sem:      make(chan struct{}, maxConcurrent),
	}
}

// validate rejects malformed requests before any pipeline work: the data
// length must match the target function's declared input count.
func (d *dispatcher) validate(req *PredictRequest) error {
	fn, err := d.app.function(req.FnIndex)
	if err != nil {
		return err
	}
	if len(req.Data) != len(fn.Inputs) {
		return fmt.Errorf("%w: got %d input values, function %d declares %d",
			errBadRequest, len(req.Data), req.FnIndex, len(fn.Inputs))
	}
	return nil
}

// predict runs one prediction. With a session hash the state blob is
// looked up (or lazily created) and the pipeline call runs under that
// session's lock, so same-session requests are sequential; without a
// hash a throwaway state scoped to this call is used.
//
// A dropped client connection does not cancel an in-flight pipeline
// call; the semaphore slot is held until the pipeline returns.
func (d *dispatcher) predict(ctx context.Context, req PredictRequest, username string) (*PredictResponse, error) {
	if err := d.validate(&req); err != nil {
		return nil, err
	}

	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	ctx, span := tracer.Start(ctx, "predict",
		oteltrace.WithAttributes(
			attribute.Int("fn_index", req.FnIndex),
			attribute.Bool("session", req.SessionHash != ""),
		))
	defer span.End()

	start := time.Now()
	var outputs []any
	var pipeErr error

	if req.SessionHash != "" {
		// The pipeline error is carried out-of-band: state mutations made
		// before the failure are kept, matching in-place semantics.
		err := d.sessions.Update(ctx, req.SessionHash, func(state map[int]any) error {
			outputs, pipeErr = d.pipe.Process(ctx, req, username, state)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", req.SessionHash, err)
		}
	} else {
		outputs, pipeErr = d.pipe.Process(ctx, req, username, map[int]any{})
	}

	elapsed := time.Since(start)
	recordPrediction(ctx, req.FnIndex, elapsed, pipeErr == nil)
	status := "ok"
	if pipeErr != nil {
		status = "error"
	}
	recordPredictionMetrics(req.FnIndex, status, elapsed.Seconds())
	if metrics != nil {
		metrics.GaugeSet("vitrine_sessions_active", float64(d.sessions.Len()))
	}

	if pipeErr != nil {
		span.RecordError(pipeErr)
		return nil, fmt.Errorf("pipeline: %w", pipeErr)
	}
	return &PredictResponse{
		Data:       outputs,
		DurationMs: float64(elapsed.Milliseconds()),
	}, nil
}
