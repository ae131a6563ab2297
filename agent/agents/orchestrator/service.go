package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/tanpawarit/agentic-research-assistant/agent/agents/executor"
	"github.com/tanpawarit/agentic-research-assistant/agent/agents/planner"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
	llmx "github.com/tanpawarit/agentic-research-assistant/agent/llm"
	memoryx "github.com/tanpawarit/agentic-research-assistant/agent/memory"
	nodex "github.com/tanpawarit/agentic-research-assistant/agent/nodes/orchestrator"
	promptx "github.com/tanpawarit/agentic-research-assistant/agent/prompt"
	statex "github.com/tanpawarit/agentic-research-assistant/agent/state"
	toolx "github.com/tanpawarit/agentic-research-assistant/agent/tool"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidSession = nodex.ErrInvalidSession
	ErrSessionExists  = errors.New("session is already open")
	ErrClosed         = errors.New("orchestrator is closed")
)

// TurnSink receives every committed request.
type TurnSink = nodex.TurnSink

// ToolCatalog is a tool registry that can describe its tools to the planner.
type ToolCatalog interface {
	contractx.ToolInvoker
	Specs() []toolx.Spec
}

type Option func(*Orchestrator)

func WithTurnSink(sink TurnSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

func WithPrompts(p promptx.PromptSet) Option {
	return func(o *Orchestrator) { o.prompts = p }
}

// Orchestrator owns the live sessions and runs every request through the
// request lifecycle graph. Each session gets its own gateway and breaker; the
// daily budget is shared by every session that keeps the default limit.
type Orchestrator struct {
	backend  llmx.Backend
	tools    ToolCatalog
	store    statex.Store
	sink     TurnSink
	settings Settings
	prompts  promptx.PromptSet
	budget   *llmx.Budget

	sessions    *xsync.MapOf[string, *liveSession]
	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now    func() time.Time
	newID  func() string
	closed chan struct{}
}

type liveSession struct {
	runtime *nodex.SessionRuntime
	gateway *llmx.Gateway
}

var _ nodex.SessionResolver = (*Orchestrator)(nil)

func New(backend llmx.Backend, tools ToolCatalog, store statex.Store, settings Settings, opts ...Option) (*Orchestrator, error) {
	if backend == nil {
		return nil, errors.New("language model backend is required")
	}
	if tools == nil {
		return nil, errors.New("tool registry is required")
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		backend:  backend,
		tools:    tools,
		store:    store,
		settings: settings,
		prompts:  promptx.LoadPromptSet(),
		sessions: xsync.NewMapOf[string, *liveSession](),
		now:      time.Now,
		newID:    uuid.NewString,
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.budget = llmx.NewBudget(settings.DailyRequestLimit, o.now)
	if err := o.prompts.Validate(); err != nil {
		return nil, err
	}

	graphRunner, err := o.compileSubmitRequestGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner
	return o, nil
}

// Response is the full result of one request.
type Response struct {
	Text    string
	Outcome contractx.Outcome
}

// SubmitRequest handles one user turn. A degraded reply comes back with a nil
// error, except for an exhausted budget, which is returned next to the reply.
func (o *Orchestrator) SubmitRequest(ctx context.Context, sessionID, text string) (string, error) {
	resp, err := o.Submit(ctx, sessionID, text)
	return resp.Text, err
}

func (o *Orchestrator) Submit(ctx context.Context, sessionID, text string) (Response, error) {
	if o.isClosed() {
		return Response{}, ErrClosed
	}
	lease := &nodex.Lease{}
	defer lease.Release()

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		SessionID: sessionID,
		Text:      text,
		Lease:     lease,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, fmt.Errorf("%w: %w", contractx.ErrCancelledRequest, ctxErr)
		}
		return Response{}, err
	}
	return Response{Text: out.Reply, Outcome: out.Outcome}, out.Err
}

// OpenSession creates or loads a session with per-session overrides. Options
// only apply at creation, so opening a live session with options fails.
func (o *Orchestrator) OpenSession(ctx context.Context, sessionID string, opts ...SessionOption) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidSession
	}
	if _, ok := o.sessions.Load(sessionID); ok {
		if len(opts) > 0 {
			return fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
		}
		return nil
	}

	cfg := o.sessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	live, err := o.open(ctx, sessionID, o.now().UTC(), cfg, len(opts) > 0)
	if err != nil {
		return err
	}
	if _, loaded := o.sessions.LoadOrStore(sessionID, live); loaded && len(opts) > 0 {
		return fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	return nil
}

// Resolve returns the live runtime of a session, loading it from the store or
// creating it with the default settings.
func (o *Orchestrator) Resolve(ctx context.Context, sessionID string, now time.Time) (*nodex.SessionRuntime, error) {
	if live, ok := o.sessions.Load(sessionID); ok {
		return live.runtime, nil
	}
	live, err := o.open(ctx, sessionID, now, o.sessionConfig(), false)
	if err != nil {
		return nil, err
	}
	actual, _ := o.sessions.LoadOrStore(sessionID, live)
	return actual.runtime, nil
}

func (o *Orchestrator) Current(sessionID string, rt *nodex.SessionRuntime) bool {
	live, ok := o.sessions.Load(sessionID)
	return ok && live.runtime == rt
}

func (o *Orchestrator) sessionConfig() sessionConfig {
	return sessionConfig{
		limits: o.settings.Limits(),
		policy: o.settings.Policy(),
	}
}

func (o *Orchestrator) open(ctx context.Context, sessionID string, now time.Time, cfg sessionConfig, override bool) (*liveSession, error) {
	mem, err := memoryx.New(cfg.limits,
		memoryx.WithHalfLife(o.settings.RecencyHalfLife),
		memoryx.WithClock(o.now),
	)
	if err != nil {
		return nil, err
	}

	sessionOpts := []statex.SessionOption{statex.WithMaxHistory(o.settings.MaxHistory)}
	var session *statex.Session
	rec, err := o.store.Load(ctx, sessionID)
	switch {
	case err == nil:
		session, err = statex.RestoreSession(rec, mem, sessionOpts...)
		if err != nil {
			return nil, err
		}
		if override {
			if err := mem.Configure(cfg.limits); err != nil {
				return nil, err
			}
		}
		log.Debug().Str("session_id", sessionID).Int("requests", len(rec.History)).Msg("orchestrator: session restored")
	case errors.Is(err, statex.ErrStateNotFound):
		session, err = statex.NewSession(sessionID, mem, now, sessionOpts...)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("session_id", sessionID).Msg("orchestrator: session created")
	default:
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	gatewayOpts := []llmx.GatewayOption{llmx.WithClock(o.now)}
	if cfg.policy.DailyRequestLimit == o.budget.Limit() {
		gatewayOpts = append(gatewayOpts, llmx.WithBudget(o.budget))
	}
	gateway, err := llmx.NewGateway(o.backend, cfg.policy, gatewayOpts...)
	if err != nil {
		return nil, err
	}
	p, err := planner.New(gateway, o.tools.Specs(), o.prompts,
		planner.WithMaxSteps(o.settings.MaxPlanSteps),
		planner.WithTemperature(o.settings.PlannerTemperature),
		planner.WithIDGenerator(o.newID),
	)
	if err != nil {
		return nil, err
	}
	exec, err := executor.New(p, o.tools, gateway, o.prompts, o.settings.executorConfig())
	if err != nil {
		return nil, err
	}

	return &liveSession{
		runtime: &nodex.SessionRuntime{
			Session:  session,
			Planner:  p,
			Executor: exec,
		},
		gateway: gateway,
	}, nil
}

// SessionStats describes one session for operators.
type SessionStats struct {
	SessionID string
	Live      bool
	CreatedAt time.Time
	UpdatedAt time.Time
	Requests  int
	Memory    memoryx.Stats
	Usage     llmx.Usage
}

// Stats reports on a live or persisted session without creating one.
func (o *Orchestrator) Stats(ctx context.Context, sessionID string) (SessionStats, error) {
	if live, ok := o.sessions.Load(sessionID); ok {
		s := live.runtime.Session
		return SessionStats{
			SessionID: sessionID,
			Live:      true,
			CreatedAt: s.CreatedAt(),
			UpdatedAt: s.UpdatedAt(),
			Requests:  len(s.History()),
			Memory:    s.Memory().Stats(),
			Usage:     live.gateway.Usage(),
		}, nil
	}

	rec, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return SessionStats{}, err
	}
	mem, err := memoryx.New(rec.Memory.Limits)
	if err != nil {
		return SessionStats{}, err
	}
	if err := mem.Restore(rec.Memory); err != nil {
		return SessionStats{}, err
	}
	return SessionStats{
		SessionID: sessionID,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Requests:  len(rec.History),
		Memory:    mem.Stats(),
	}, nil
}

// Usage reports the gateway budget of a live session. Sessions on the default
// limit report the shared budget.
func (o *Orchestrator) Usage(sessionID string) (llmx.Usage, bool) {
	live, ok := o.sessions.Load(sessionID)
	if !ok {
		return llmx.Usage{}, false
	}
	return live.gateway.Usage(), true
}

// History returns the recorded requests of a live or persisted session.
func (o *Orchestrator) History(ctx context.Context, sessionID string) ([]statex.RequestRecord, error) {
	if live, ok := o.sessions.Load(sessionID); ok {
		return live.runtime.Session.History(), nil
	}
	rec, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return rec.History, nil
}

// EndSession waits for the in-flight request, saves the session and evicts it.
// Ending a session that is not live is a no-op.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	live, ok := o.sessions.Load(sessionID)
	if !ok {
		return nil
	}
	release, err := live.runtime.Session.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	// Save before evicting so a request that re-resolves loads the final state.
	if err := o.store.Save(ctx, live.runtime.Session.Record()); err != nil {
		return fmt.Errorf("save session %s: %w", sessionID, err)
	}
	o.sessions.Delete(sessionID)
	log.Info().Str("session_id", sessionID).Msg("orchestrator: session ended")
	return nil
}

// DeleteSession evicts a session and removes it from the store.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	if live, ok := o.sessions.Load(sessionID); ok {
		release, err := live.runtime.Session.Acquire(ctx)
		if err != nil {
			return err
		}
		o.sessions.Delete(sessionID)
		release()
	}
	return o.store.Delete(ctx, sessionID)
}

// Close saves every live session and closes the store.
func (o *Orchestrator) Close(ctx context.Context) error {
	if o.isClosed() {
		return nil
	}
	close(o.closed)

	var errs error
	o.sessions.Range(func(id string, _ *liveSession) bool {
		errs = multierr.Append(errs, o.EndSession(ctx, id))
		return true
	})
	return multierr.Append(errs, o.store.Close())
}

func (o *Orchestrator) isClosed() bool {
	select {
	case <-o.closed:
		return true
	default:
		return false
	}
}
