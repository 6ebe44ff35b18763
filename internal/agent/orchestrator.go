// Package agent drives one conversational turn: it sends the incoming message
// to the model, executes any tools the model asks for, feeds the results back
// and stops once the model answers with text.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/slackagent/internal/conversation"
	"github.com/haasonsaas/slackagent/internal/observability"
	"github.com/haasonsaas/slackagent/internal/tools"
	"github.com/haasonsaas/slackagent/internal/trace"
)

// DefaultMaxIterations bounds the number of tool rounds per turn.
const DefaultMaxIterations = 10

// ModelClient opens model chat sessions.
type ModelClient interface {
	// Open starts a session that can call declared and is seeded with prior.
	Open(ctx context.Context, declared []tools.Tool, prior []conversation.Turn) (Session, error)
}

// Session is a stateful model chat. Each Send sees everything sent before it.
type Session interface {
	Send(ctx context.Context, parts []conversation.Part) (*Response, error)
}

// Response holds the parts of the first candidate of a model response.
type Response struct {
	Parts []conversation.Part
}

// Result is the outcome of a completed turn.
type Result struct {
	Text   string
	Trace  []trace.Record
	Rounds int
}

// Config configures an Orchestrator.
type Config struct {
	// MaxIterations caps tool rounds. Default: 10.
	MaxIterations int

	// Parallel executes the calls of one response concurrently. Trace records
	// keep call order either way.
	Parallel bool

	// MaxParallel limits concurrent tool executions when Parallel is set.
	// Default: 4.
	MaxParallel int

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Orchestrator runs turns against a model and a tool registry.
type Orchestrator struct {
	model  ModelClient
	tools  *tools.Registry
	config Config
	logger *slog.Logger
}

// New creates an orchestrator. A nil registry means no tools.
func New(model ModelClient, registry *tools.Registry, config Config) *Orchestrator {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultMaxIterations
	}
	if config.MaxParallel <= 0 {
		config.MaxParallel = 4
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		model:  model,
		tools:  registry,
		config: config,
		logger: logger.With("component", "agent"),
	}
}

// Run executes the turn described by input. Any failure aborts the turn.
func (o *Orchestrator) Run(ctx context.Context, input conversation.Context) (_ *Result, err error) {
	if o.model == nil {
		return nil, ErrNoModel
	}
	ctx, span := o.config.Tracer.Start(ctx, "agent.run", attribute.Int("prior_turns", len(input.Prior)))
	defer func() { observability.EndSpan(span, err) }()

	session, err := o.model.Open(ctx, o.tools.List(), input.Prior)
	if err != nil {
		return nil, &RunError{State: StateSending, Err: fmt.Errorf("open session: %w", err)}
	}

	var (
		tr      trace.Trace
		resp    *Response
		pending = input.Incoming
		rounds  int
		state   = StateSending
	)
	for state != StateDone {
		switch state {
		case StateSending:
			resp, err = session.Send(ctx, pending)
			if err != nil {
				return nil, &RunError{State: state, Round: rounds, Err: err}
			}
			if resp == nil {
				resp = &Response{}
			}
		case StateExecutingTools:
			if rounds >= o.config.MaxIterations {
				return nil, &RunError{
					State: state,
					Round: rounds,
					Err:   fmt.Errorf("%w: %d rounds", ErrToolLoopExceeded, o.config.MaxIterations),
				}
			}
			rounds++
			calls := conversation.ToolCalls(resp.Parts)
			o.logger.DebugContext(ctx, "executing tool round", "round", rounds, "calls", len(calls))
			pending, err = o.executeRound(ctx, calls, &tr)
			if err != nil {
				return nil, &RunError{State: state, Round: rounds, Err: err}
			}
		}
		state = next(state, resp)
	}

	text, ok := conversation.FirstText(resp.Parts)
	if !ok {
		return nil, &RunError{State: StateDone, Round: rounds, Err: ErrNoTextResponse}
	}
	if err := tr.Complete(); err != nil {
		return nil, &RunError{State: StateDone, Round: rounds, Err: err}
	}
	o.config.Metrics.RecordToolRounds(rounds)
	span.SetAttributes(attribute.Int("tool_rounds", rounds), attribute.Int("trace_records", tr.Len()))
	return &Result{Text: text, Trace: tr.Records(), Rounds: rounds}, nil
}

type callOutcome struct {
	value any
	err   error
}

// executeRound invokes every call, appends call/response records in call
// order and returns one ToolResult per distinct tool name. When a name is
// called more than once the last result wins; names keep first-seen order.
func (o *Orchestrator) executeRound(ctx context.Context, calls []conversation.ToolCall, tr *trace.Trace) ([]conversation.Part, error) {
	outcomes := make([]callOutcome, len(calls))
	if o.config.Parallel && len(calls) > 1 {
		// The first failure cancels calls that have not started yet.
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		var (
			wg       sync.WaitGroup
			failOnce sync.Once
			firstErr error
		)
		sem := make(chan struct{}, o.config.MaxParallel)
		for i, call := range calls {
			wg.Add(1)
			go func(idx int, call conversation.ToolCall) {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-runCtx.Done():
					outcomes[idx] = callOutcome{err: runCtx.Err()}
					return
				}
				if err := runCtx.Err(); err != nil {
					outcomes[idx] = callOutcome{err: err}
					return
				}
				value, err := o.invoke(runCtx, call)
				outcomes[idx] = callOutcome{value: value, err: err}
				if err != nil {
					failOnce.Do(func() {
						firstErr = err
						cancel()
					})
				}
			}(i, call)
		}
		wg.Wait()
		if firstErr != nil {
			return nil, firstErr
		}
	} else {
		for i, call := range calls {
			value, err := o.invoke(ctx, call)
			outcomes[i] = callOutcome{value: value, err: err}
			if err != nil {
				break
			}
		}
	}

	var (
		order  []string
		latest = make(map[string]any, len(calls))
	)
	for i, call := range calls {
		if err := outcomes[i].err; err != nil {
			return nil, err
		}
		tr.AddCall(call.Name, call.Args)
		tr.AddResult(call.Name, outcomes[i].value)
		if _, seen := latest[call.Name]; !seen {
			order = append(order, call.Name)
		}
		latest[call.Name] = outcomes[i].value
	}

	parts := make([]conversation.Part, 0, len(order))
	for _, name := range order {
		parts = append(parts, conversation.ToolResult{Name: name, Value: latest[name]})
	}
	return parts, nil
}

func (o *Orchestrator) invoke(ctx context.Context, call conversation.ToolCall) (_ any, err error) {
	ctx, span := o.config.Tracer.Start(ctx, "tool.invoke", attribute.String("tool", call.Name))
	start := time.Now()
	defer func() {
		o.config.Metrics.RecordToolExecution(call.Name, toolStatus(err), time.Since(start))
		observability.EndSpan(span, err)
	}()

	value, err := o.tools.Invoke(ctx, call.Name, call.Args)
	if err != nil {
		o.logger.WarnContext(ctx, "tool failed", "tool", call.Name, "error", err)
		return nil, err
	}
	return value, nil
}

func toolStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, tools.ErrToolNotFound):
		return "not_found"
	case errors.Is(err, tools.ErrInvalidArguments):
		return "invalid_args"
	default:
		return "error"
	}
}
