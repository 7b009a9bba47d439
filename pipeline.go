package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// --- Exec Pipeline ---

// ExecPipeline runs the wrapped function as an external command. The
// request is written to stdin as one JSON object; the command prints a
// JSON array of output values (or {"data": [...]}) on stdout.
type ExecPipeline struct {
	command string
	args    []string
	workDir string
	timeout time.Duration
}

func newExecPipeline(cfg PipelineConfig) (*ExecPipeline, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("pipeline.command not configured")
	}
	return &ExecPipeline{
		command: cfg.Command,
		args:    cfg.Args,
		workDir: cfg.WorkDir,
		timeout: cfg.timeoutOrDefault(),
	}, nil
}

// execPayload is the stdin document handed to the command.
type execPayload struct {
	FnIndex    int         `json:"fn_index"`
	Data       []any       `json:"data"`
	Username   string      `json:"username,omitempty"`
	State      map[int]any `json:"state,omitempty"`
	PriorState any         `json:"prior_state,omitempty"`
	ExampleID  *int        `json:"example_id,omitempty"`
	Cleared    bool        `json:"cleared,omitempty"`
}

// execResult accepts the wrapped form of command output.
type execResult struct {
	Data  []any       `json:"data"`
	State map[int]any `json:"state,omitempty"`
}

func (p *ExecPipeline) Process(ctx context.Context, req PredictRequest, username string, state map[int]any) ([]any, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	payload, err := json.Marshal(execPayload{
		FnIndex:    req.FnIndex,
		Data:       req.Data,
		Username:   username,
		State:      state,
		PriorState: req.State,
		ExampleID:  req.ExampleID,
		Cleared:    req.Cleared,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal pipeline input: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.command, p.args...)
	if p.workDir != "" {
		cmd.Dir = p.workDir
	}
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logDebugCtx(ctx, "pipeline exec", "command", p.command, "fnIndex", req.FnIndex)
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("pipeline timed out after %s", p.timeout)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("pipeline command failed: %s", detail)
	}

	outputs, newState, err := parsePipelineOutput(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	// Commands may hand back a replacement state; merge it over the blob
	// the caller shares with the session store.
	for id, v := range newState {
		state[id] = v
	}
	return outputs, nil
}

// parsePipelineOutput accepts either a bare JSON array of outputs or a
// {"data": [...], "state": {...}} object.
func parsePipelineOutput(out []byte) ([]any, map[int]any, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, nil, fmt.Errorf("pipeline produced no output")
	}
	if trimmed[0] == '[' {
		var outputs []any
		if err := json.Unmarshal(trimmed, &outputs); err != nil {
			return nil, nil, fmt.Errorf("parse pipeline output: %w", err)
		}
		return outputs, nil, nil
	}
	var res execResult
	if err := json.Unmarshal(trimmed, &res); err != nil {
		return nil, nil, fmt.Errorf("parse pipeline output: %w", err)
	}
	if res.Data == nil {
		return nil, nil, fmt.Errorf("pipeline output missing data array")
	}
	return res.Data, res.State, nil
}

// --- Func Pipeline ---

// FuncPipeline adapts a plain Go function, for embedding the server in
// another program (and for tests).
type FuncPipeline struct {
	Fn func(ctx context.Context, req PredictRequest, username string, state map[int]any) ([]any, error)
}

func (p FuncPipeline) Process(ctx context.Context, req PredictRequest, username string, state map[int]any) ([]any, error) {
	return p.Fn(ctx, req, username, state)
}
