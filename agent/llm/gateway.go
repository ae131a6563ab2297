package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
	retryx "github.com/tanpawarit/agentic-research-assistant/pkg/retry"
)

// Policy is the budget, retry and timeout configuration of one gateway.
type Policy struct {
	DailyRequestLimit int
	MaxAttempts       int
	BackoffBase       time.Duration
	MaxBackoff        time.Duration
	RequestTimeout    time.Duration
	// BreakerFailures consecutive failures open the circuit; zero disables it.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

var DefaultPolicy = Policy{
	DailyRequestLimit: 1000,
	MaxAttempts:       3,
	BackoffBase:       200 * time.Millisecond,
	MaxBackoff:        30 * time.Second,
	RequestTimeout:    30 * time.Second,
	BreakerFailures:   5,
	BreakerCooldown:   30 * time.Second,
}

func (p Policy) Validate() error {
	if p.DailyRequestLimit < 1 {
		return fmt.Errorf("%w: daily_request_limit must be >= 1, got %d", contractx.ErrValidation, p.DailyRequestLimit)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_retry_attempts must be >= 1, got %d", contractx.ErrValidation, p.MaxAttempts)
	}
	if p.BackoffBase < 0 || p.RequestTimeout < 0 {
		return fmt.Errorf("%w: backoff and timeout must not be negative", contractx.ErrValidation)
	}
	return nil
}

// Usage is the request budget state of the current window.
type Usage struct {
	Window time.Time `json:"window"`
	Used   int       `json:"used"`
	Limit  int       `json:"limit"`
}

func (u Usage) Remaining() int {
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

// Gateway wraps a Backend with a daily request budget, bounded exponential
// backoff, a per-call timeout and a circuit breaker.
type Gateway struct {
	backend Backend
	policy  Policy
	breaker *gobreaker.CircuitBreaker
	budget  *Budget
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

var _ contractx.Completer = (*Gateway)(nil)

type GatewayOption func(*Gateway)

func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithBudget makes the gateway draw on a budget shared with other gateways.
// The shared budget's limit replaces Policy.DailyRequestLimit.
func WithBudget(b *Budget) GatewayOption {
	return func(g *Gateway) {
		if b != nil {
			g.budget = b
		}
	}
}

// WithSleep replaces the backoff wait, mostly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) GatewayOption {
	return func(g *Gateway) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

func NewGateway(backend Backend, policy Policy, opts ...GatewayOption) (*Gateway, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: gateway backend is nil", contractx.ErrValidation)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	g := &Gateway{
		backend: backend,
		policy:  policy,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	if policy.BreakerFailures > 0 {
		threshold := policy.BreakerFailures
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "llm_gateway",
			MaxRequests: 1,
			Timeout:     policy.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			// Client errors and cancellations say nothing about remote health.
			IsSuccessful: func(err error) bool {
				return err == nil || !isTransient(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("llm gateway: circuit breaker state changed")
			},
		})
	}

	if g.budget == nil {
		g.budget = NewBudget(policy.DailyRequestLimit, g.now)
	}
	return g, nil
}

func (g *Gateway) Policy() Policy {
	return g.policy
}

func (g *Gateway) Usage() Usage {
	return g.budget.Usage()
}

// Complete sends req to the backend. An exhausted budget fails with
// ErrRateLimitExceeded before any remote call; transient failures are retried
// and end in ErrGatewayUnavailable.
func (g *Gateway) Complete(ctx context.Context, req contractx.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", contractx.ErrCancelledRequest, err)
	}

	var text string
	attempts, err := retryx.Do(ctx, retryx.Policy{
		MaxAttempts: g.policy.MaxAttempts,
		BaseDelay:   g.policy.BackoffBase,
		MaxDelay:    g.policy.MaxBackoff,
		ShouldRetry: isTransient,
		Sleep:       g.sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("llm gateway: transient failure, retrying")
		},
	}, func(ctx context.Context, attempt int) error {
		out, err := g.call(ctx, req)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err == nil {
		return text, nil
	}

	switch {
	case errors.Is(err, contractx.ErrRateLimitExceeded):
		log.Warn().Int("limit", g.budget.Limit()).Msg("llm gateway: daily request budget exhausted")
		return "", err
	case ctx.Err() != nil:
		return "", fmt.Errorf("%w: %w", contractx.ErrCancelledRequest, ctx.Err())
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "", fmt.Errorf("%w: circuit open: %w", contractx.ErrGatewayUnavailable, err)
	default:
		return "", fmt.Errorf("%w: after %d attempt(s): %w", contractx.ErrGatewayUnavailable, attempts, err)
	}
}

type callResult struct {
	text string
	err  error
}

func (g *Gateway) call(ctx context.Context, req contractx.CompletionRequest) (string, error) {
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if g.policy.RequestTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.policy.RequestTimeout)
	}
	defer cancel()

	// The breaker rejects before generate runs, so an open or saturated
	// half-open circuit consumes no budget.
	generate := func() (interface{}, error) {
		if err := g.budget.Reserve(); err != nil {
			return nil, err
		}
		done := make(chan callResult, 1)
		go func() {
			text, err := g.backend.Generate(callCtx, req)
			done <- callResult{text: text, err: err}
		}()

		select {
		case r := <-done:
			if r.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return nil, timeoutError(g.policy.RequestTimeout, r.err)
			}
			return r.text, r.err
		case <-callCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, timeoutError(g.policy.RequestTimeout, callCtx.Err())
		}
	}

	var (
		out interface{}
		err error
	)
	if g.breaker != nil {
		out, err = g.breaker.Execute(generate)
	} else {
		out, err = generate()
	}
	if err != nil {
		return "", err
	}
	text, _ := out.(string)
	return text, nil
}

func timeoutError(d time.Duration, err error) error {
	return &RemoteError{
		Provider:  "gateway",
		Retryable: true,
		Err:       fmt.Errorf("request timed out after %s: %w", d, err),
	}
}

func isTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, contractx.ErrRateLimitExceeded):
		return false
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Retryable
	}
	return true
}

// Budget counts remote attempts against a daily limit. The window is the UTC
// calendar day. A Budget is safe for concurrent use by several gateways.
type Budget struct {
	limit int
	now   func() time.Time

	mu     sync.Mutex
	window time.Time
	used   int
}

func NewBudget(limit int, now func() time.Time) *Budget {
	if now == nil {
		now = time.Now
	}
	return &Budget{limit: limit, now: now, window: dayStart(now())}
}

func (b *Budget) Limit() int {
	return b.limit
}

func (b *Budget) Usage() Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()
	return Usage{Window: b.window, Used: b.used, Limit: b.limit}
}

// Reserve takes one request from the budget or fails with ErrRateLimitExceeded.
func (b *Budget) Reserve() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()
	if b.used >= b.limit {
		return fmt.Errorf("%w: %d/%d requests used since %s",
			contractx.ErrRateLimitExceeded, b.used, b.limit, b.window.Format(time.DateOnly))
	}
	b.used++
	return nil
}

// roll resets the counter when the UTC day changed. Callers hold mu.
func (b *Budget) roll() {
	if day := dayStart(b.now()); day.After(b.window) {
		b.window = day
		b.used = 0
	}
}

func dayStart(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
