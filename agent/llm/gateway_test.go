package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

type fakeBackend struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int32) (string, error)
}

func (f *fakeBackend) Generate(ctx context.Context, _ contractx.CompletionRequest) (string, error) {
	n := f.calls.Add(1)
	return f.fn(ctx, n)
}

type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func testPolicy() Policy {
	return Policy{
		DailyRequestLimit: 10,
		MaxAttempts:       3,
		BackoffBase:       100 * time.Millisecond,
		RequestTimeout:    time.Second,
	}
}

func TestGatewayCompleteSuccess(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{fn: func(context.Context, int32) (string, error) { return "hello", nil }}
	g, err := NewGateway(backend, testPolicy())
	require.NoError(t, err)

	got, err := g.Complete(context.Background(), contractx.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.Equal(t, 1, g.Usage().Used)
}

func TestGatewayRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{fn: func(_ context.Context, call int32) (string, error) {
		if call < 3 {
			return "", &RemoteError{Provider: "fake", StatusCode: 503, Retryable: true, Err: errors.New("busy")}
		}
		return "ok", nil
	}}
	sleeper := &recordingSleep{}
	g, err := NewGateway(backend, testPolicy(), WithSleep(sleeper.sleep))
	require.NoError(t, err)

	got, err := g.Complete(context.Background(), contractx.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(3), backend.calls.Load())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeper.delays)
	assert.Equal(t, 3, g.Usage().Used)
}

func TestGatewayExhaustedRetriesIsUnavailable(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{fn: func(context.Context, int32) (string, error) {
		return "", &RemoteError{Provider: "fake", Retryable: true, Err: errors.New("connection reset")}
	}}
	sleeper := &recordingSleep{}
	g, err := NewGateway(backend, testPolicy(), WithSleep(sleeper.sleep))
	require.NoError(t, err)

	_, err = g.Complete(context.Background(), contractx.CompletionRequest{Prompt: "hi"})
	require.ErrorIs(t, err, contractx.ErrGatewayUnavailable)
	assert.Equal(t, int32(3), backend.calls.Load())
	assert.Len(t, sleeper.delays, 2)
}

func TestGatewayNonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{fn: func(context.Context, int32) (string, error) {
		return "", &RemoteError{Provider: "fake", StatusCode: 400, Retryable: false, Err: errors.New("bad request")}
	}}
	g, err := NewGateway(backend, testPolicy())
	require.NoError(t, err)

	_, err = g.Complete(context.Background(), contractx.CompletionRequest{Prompt: "hi"})
	require.ErrorIs(t, err, contractx.ErrGatewayUnavailable)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 400, remote.StatusCode)
	assert.Equal(t, int32(1), backend.calls.Load())
}

func TestGatewayBudgetExhaustedNeverContactsBackend(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{fn: func(context.Context, int32) (string, error) { return "ok", nil }}
	policy := testPolicy()
	policy.DailyRequestLimit = 2
	sleeper := &recordingSleep{}
	g, err := NewGateway(backend, policy, WithSleep(sleeper.sleep))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := g.Complete(context.Background(), contractx.CompletionRequest{Prompt: "hi"})
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		_, err = g.Complete(context.Background(), contractx.CompletionRequest{Prompt: "hi"})
		require.ErrorIs(t, err, contractx.ErrRateLimitExceeded)
		assert.NotErrorIs(t, err, contractx.ErrGatewayUnavailable)
	}
	assert.Equal(t, int32(2), backend.calls.Load())
	assert.Empty(t, sleeper.delays)
	assert.Equal(t, 0, g.Usage().Remaining())
}

func TestGatewayBudgetResetsNextDay(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		now = time.Date(2026, 5, 4, 23, 50, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	backend := &fakeBackend{fn: func(context.Context, int32) (string, error) { return "ok", nil }}
	policy := testPolicy()
	policy.DailyRequestLimit = 1
	g, err := NewGateway(backend, policy, WithClock(clock))
	require.NoError(t, err)

	_, err = g.Complete(context.Background(), contractx.CompletionRequest{Prompt: "a"})
	require.NoError(t, err)
	_, err = g.Complete(context.Background(), contractx.CompletionRequest{Prompt: "b"})
	require.ErrorIs(t, err, contractx.ErrRateLimitExceeded)

	mu.Lock()
	now = now.Add(15 * time.Minute)
	mu.Unlock()

	_, err = g.Complete(context.Background(), contractx.CompletionRequest{Prompt: "c"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), backend.calls.Load())
}

func TestGatewayTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{fn: func(ctx context.Context, call int32) (string, error) {
		if call == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "late but fine", nil
	}}
	policy := testPolicy()
	policy.RequestTimeout = 20 * time.Millisecond
	sleeper := &recordingSleep{}
	g, err := NewGateway(backend, policy, WithSleep(sleeper.sleep))
	require.NoError(t, err)

	got, err := g.Complete(context.Background(), contractx.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "late but fine", got)
	assert.Len(t, sleeper.delays, 1)
}

func TestGatewayCancelledContext(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{fn: func(context.Context, int32) (string, error) { return "ok", nil }}
	g, err := NewGateway(backend, testPolicy())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Complete(ctx, contractx.CompletionRequest{Prompt: "hi"})
	require.ErrorIs(t, err, contractx.ErrCancelledRequest)
	assert.Equal(t, int32(0), backend.calls.Load())
	assert.Equal(t, 0, g.Usage().Used)
}

func TestGatewayCircuitOpens(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{fn: func(context.Context, int32) (string, error) {
		return "", &RemoteError{Provider: "fake", StatusCode: 502, Retryable: true, Err: errors.New("bad gateway")}
	}}
	policy := testPolicy()
	policy.MaxAttempts = 1
	policy.BreakerFailures = 2
	policy.BreakerCooldown = time.Hour
	g, err := NewGateway(backend, policy)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = g.Complete(context.Background(), contractx.CompletionRequest{Prompt: "hi"})
		require.ErrorIs(t, err, contractx.ErrGatewayUnavailable)
	}

	_, err = g.Complete(context.Background(), contractx.CompletionRequest{Prompt: "hi"})
	require.ErrorIs(t, err, contractx.ErrGatewayUnavailable)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, int32(2), backend.calls.Load())
	assert.Equal(t, 2, g.Usage().Used)
}

func TestGatewayHalfOpenRejectionConsumesNoBudget(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	backend := &fakeBackend{fn: func(_ context.Context, call int32) (string, error) {
		if call == 1 {
			return "", &RemoteError{Provider: "fake", StatusCode: 503, Retryable: true, Err: errors.New("unavailable")}
		}
		<-release
		return "recovered", nil
	}}
	policy := testPolicy()
	policy.MaxAttempts = 1
	policy.BreakerFailures = 1
	policy.BreakerCooldown = 20 * time.Millisecond
	g, err := NewGateway(backend, policy)
	require.NoError(t, err)

	_, err = g.Complete(context.Background(), contractx.CompletionRequest{Prompt: "hi"})
	require.ErrorIs(t, err, contractx.ErrGatewayUnavailable)

	// Open: rejected without a reservation.
	_, err = g.Complete(context.Background(), contractx.CompletionRequest{Prompt: "hi"})
	require.ErrorIs(t, err, contractx.ErrGatewayUnavailable)
	assert.Equal(t, 1, g.Usage().Used)

	time.Sleep(40 * time.Millisecond)

	trial := make(chan error, 1)
	go func() {
		_, err := g.Complete(context.Background(), contractx.CompletionRequest{Prompt: "trial"})
		trial <- err
	}()
	require.Eventually(t, func() bool { return backend.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	// Half-open with the single trial slot taken.
	_, err = g.Complete(context.Background(), contractx.CompletionRequest{Prompt: "hi"})
	require.ErrorIs(t, err, contractx.ErrGatewayUnavailable)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 2, g.Usage().Used)

	close(release)
	require.NoError(t, <-trial)
	assert.Equal(t, int32(2), backend.calls.Load())
	assert.Equal(t, 2, g.Usage().Used)
}

func TestGatewaysShareBudget(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{fn: func(context.Context, int32) (string, error) { return "ok", nil }}
	budget := NewBudget(3, nil)
	first, err := NewGateway(backend, testPolicy(), WithBudget(budget))
	require.NoError(t, err)
	second, err := NewGateway(backend, testPolicy(), WithBudget(budget))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = first.Complete(context.Background(), contractx.CompletionRequest{Prompt: "a"})
		require.NoError(t, err)
	}
	_, err = second.Complete(context.Background(), contractx.CompletionRequest{Prompt: "b"})
	require.NoError(t, err)

	_, err = second.Complete(context.Background(), contractx.CompletionRequest{Prompt: "c"})
	require.ErrorIs(t, err, contractx.ErrRateLimitExceeded)
	_, err = first.Complete(context.Background(), contractx.CompletionRequest{Prompt: "d"})
	require.ErrorIs(t, err, contractx.ErrRateLimitExceeded)

	assert.Equal(t, int32(3), backend.calls.Load())
	assert.Equal(t, Usage{Window: budget.Usage().Window, Used: 3, Limit: 3}, first.Usage())
	assert.Equal(t, first.Usage(), second.Usage())
}

func TestNewGatewayValidatesPolicy(t *testing.T) {
	t.Parallel()

	backend := BackendFunc(func(context.Context, contractx.CompletionRequest) (string, error) { return "", nil })

	_, err := NewGateway(backend, Policy{DailyRequestLimit: 0, MaxAttempts: 1})
	require.ErrorIs(t, err, contractx.ErrValidation)
	_, err = NewGateway(backend, Policy{DailyRequestLimit: 1, MaxAttempts: 0})
	require.ErrorIs(t, err, contractx.ErrValidation)
	_, err = NewGateway(nil, DefaultPolicy)
	require.ErrorIs(t, err, contractx.ErrValidation)
}
