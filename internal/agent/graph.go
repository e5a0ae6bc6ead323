package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/gogen/internal/circuitbreaker"
	"github.com/jonesrussell/gogen/internal/llm"
	"github.com/jonesrussell/gogen/internal/logger"
	"github.com/jonesrussell/gogen/internal/retry"
	"github.com/jonesrussell/gogen/internal/timeout"
)

// Graph executes the agent routing state machine. Every backend call goes
// through the role's circuit breaker and a deadline; the breaker registry is
// shared so repeated failures against one backend are visible across runs.
type Graph struct {
	invoker    llm.Invoker
	breakers   *circuitbreaker.Registry
	breakerCfg circuitbreaker.Config
	logger     logger.Logger
}

// NewGraph wires the routing graph. breakerCfg applies to breakers created
// for roles seen for the first time.
func NewGraph(invoker llm.Invoker, breakers *circuitbreaker.Registry, breakerCfg circuitbreaker.Config, log logger.Logger) *Graph {
	return &Graph{
		invoker:    invoker,
		breakers:   breakers,
		breakerCfg: breakerCfg,
		logger:     log,
	}
}

// Run walks the graph from moderation to a terminal node and returns the
// produced response. The error is non-nil only when the fallback path itself
// failed; everything recoverable is absorbed by rerouting.
func (g *Graph) Run(ctx context.Context, profile Profile, input RunInput) (Result, error) {
	state := &runState{input: input, agent: TypeMain}

	node := NodeModeration
	for node != NodeEnd {
		var outcome Outcome
		switch node {
		case NodeModeration:
			outcome = g.runModeration(ctx, profile, state)
		case NodeRouter:
			outcome = g.runRouter(state)
		case NodeMain:
			outcome = g.runMain(ctx, profile, state)
		case NodeFollowup:
			outcome = g.runFollowup(ctx, profile, state)
		case NodeFallback:
			outcome = g.runFallback(ctx, profile, state)
		default:
			return Result{}, fmt.Errorf("routing graph reached unknown node %q", node)
		}

		next, ok := transitions[node][outcome]
		if !ok {
			return Result{}, fmt.Errorf("routing graph has no edge for (%s, %s)", node, outcome)
		}
		g.logger.Debug("graph transition",
			logger.String("from", string(node)),
			logger.String("outcome", string(outcome)),
			logger.String("to", string(next)),
		)
		node = next
	}

	if state.err != nil {
		return Result{}, fmt.Errorf("agent pipeline failed: %w", state.err)
	}
	return Result{Text: state.response, Tokens: state.tokens, Agent: state.agent}, nil
}

// callBackend runs one invocation as breaker -> deadline -> backend. An open
// breaker rejects before the backend is touched; a timed-out or failed call
// counts against the breaker.
func (g *Graph) callBackend(ctx context.Context, role RoleConfig, operation string, req llm.Request) (llm.Response, error) {
	breaker := g.breakers.GetOrCreate(role.Breaker, g.breakerCfg)

	var resp llm.Response
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		r, err := timeout.With(ctx, role.Timeout, operation, func(ctx context.Context) (llm.Response, error) {
			return g.invoker.Invoke(ctx, req)
		})
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return llm.Response{}, err
	}
	return resp, nil
}

// Runner retries whole graph runs on transient failures with exponential
// backoff. Breaker rejections are not retried here; they surface immediately
// so the job-level retry takes over.
type Runner struct {
	graph   *Graph
	backoff retry.Config
	logger  logger.Logger
}

// NewRunner uses maxRetries extra attempts per run; maxRetries < 0 falls
// back to 3.
func NewRunner(graph *Graph, maxRetries int, log logger.Logger) *Runner {
	if maxRetries < 0 {
		maxRetries = 3
	}
	backoff := retry.DefaultConfig()
	backoff.MaxRetries = maxRetries
	// In-attempt retries must resolve well inside the job timeout.
	backoff.MaxDelay = 30 * time.Second
	backoff.IsRetryable = retryableRunError

	return &Runner{
		graph:   graph,
		backoff: backoff,
		logger:  log,
	}
}

// Run executes the graph, retrying transient failures.
func (r *Runner) Run(ctx context.Context, profile Profile, input RunInput) (Result, error) {
	var result Result
	err := retry.Do(ctx, r.backoff, func(ctx context.Context) error {
		out, runErr := r.graph.Run(ctx, profile, input)
		if runErr != nil {
			return runErr
		}
		result = out
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// retryableRunError allows immediate retries only for failures that a fresh
// attempt can plausibly fix.
func retryableRunError(err error) bool {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return false
	}

	var terr *timeout.Error
	if errors.As(err, &terr) {
		return true
	}

	var berr *llm.Error
	if errors.As(err, &berr) {
		return berr.Retryable()
	}
	return false
}
