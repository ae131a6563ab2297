package orchestrator

import (
	"time"

	"github.com/tanpawarit/agentic-research-assistant/agent/agents/executor"
	llmx "github.com/tanpawarit/agentic-research-assistant/agent/llm"
	memoryx "github.com/tanpawarit/agentic-research-assistant/agent/memory"
)

// Settings is the per-process default configuration of every session. Each
// value can be overridden when a session is opened.
type Settings struct {
	ShortTermCapacity  int `envconfig:"SHORT_TERM_CAPACITY" default:"10"`
	WorkingCapacity    int `envconfig:"WORKING_CAPACITY" default:"50"`
	LongTermCapacity   int `envconfig:"LONG_TERM_CAPACITY" default:"100"`
	DailyRequestLimit  int `envconfig:"DAILY_REQUEST_LIMIT" default:"1000"`
	MaxRetryAttempts   int `envconfig:"MAX_RETRY_ATTEMPTS" default:"3"`
	RetryBackoffBaseMS int `envconfig:"RETRY_BACKOFF_BASE_MS" default:"200"`
	RequestTimeoutMS   int `envconfig:"REQUEST_TIMEOUT_MS" default:"30000"`

	MaxParallelSteps int           `envconfig:"MAX_PARALLEL_STEPS" default:"4"`
	ContextItems     int           `envconfig:"CONTEXT_ITEMS" default:"8"`
	RecencyHalfLife  time.Duration `envconfig:"RECENCY_HALF_LIFE" default:"30m"`
	MaxPlanSteps     int           `envconfig:"MAX_PLAN_STEPS" default:"8"`
	MaxHistory       int           `envconfig:"MAX_HISTORY" default:"50"`

	// Model-facing knobs come from the backend configuration, see FromLLM.
	BreakerFailures      uint32        `ignored:"true"`
	BreakerCooldown      time.Duration `ignored:"true"`
	PlannerTemperature   float32       `ignored:"true"`
	SynthesisTemperature float32       `ignored:"true"`
}

var DefaultSettings = Settings{
	ShortTermCapacity:    memoryx.DefaultLimits.ShortTerm,
	WorkingCapacity:      memoryx.DefaultLimits.Working,
	LongTermCapacity:     memoryx.DefaultLimits.LongTerm,
	DailyRequestLimit:    llmx.DefaultPolicy.DailyRequestLimit,
	MaxRetryAttempts:     llmx.DefaultPolicy.MaxAttempts,
	RetryBackoffBaseMS:   int(llmx.DefaultPolicy.BackoffBase / time.Millisecond),
	RequestTimeoutMS:     int(llmx.DefaultPolicy.RequestTimeout / time.Millisecond),
	MaxParallelSteps:     executor.DefaultConfig.MaxParallel,
	ContextItems:         8,
	RecencyHalfLife:      30 * time.Minute,
	MaxPlanSteps:         8,
	MaxHistory:           50,
	BreakerFailures:      llmx.DefaultPolicy.BreakerFailures,
	BreakerCooldown:      llmx.DefaultPolicy.BreakerCooldown,
	PlannerTemperature:   0.2,
	SynthesisTemperature: executor.DefaultConfig.Temperature,
}

// FromLLM copies breaker and temperature settings from the backend config.
func (s Settings) FromLLM(c llmx.Config) Settings {
	s.BreakerFailures = c.BreakerFailures
	s.BreakerCooldown = c.BreakerCooldown
	s.PlannerTemperature = c.PlannerTemp()
	s.SynthesisTemperature = c.SynthesisTemp()
	return s
}

func (s Settings) Limits() memoryx.Limits {
	return memoryx.Limits{
		ShortTerm: s.ShortTermCapacity,
		Working:   s.WorkingCapacity,
		LongTerm:  s.LongTermCapacity,
	}
}

func (s Settings) Policy() llmx.Policy {
	return llmx.Policy{
		DailyRequestLimit: s.DailyRequestLimit,
		MaxAttempts:       s.MaxRetryAttempts,
		BackoffBase:       time.Duration(s.RetryBackoffBaseMS) * time.Millisecond,
		MaxBackoff:        llmx.DefaultPolicy.MaxBackoff,
		RequestTimeout:    time.Duration(s.RequestTimeoutMS) * time.Millisecond,
		BreakerFailures:   s.BreakerFailures,
		BreakerCooldown:   s.BreakerCooldown,
	}
}

func (s Settings) executorConfig() executor.Config {
	cfg := executor.DefaultConfig
	cfg.MaxParallel = s.MaxParallelSteps
	cfg.StepTimeout = time.Duration(s.RequestTimeoutMS) * time.Millisecond
	cfg.ToolAttempts = s.MaxRetryAttempts
	cfg.ToolBackoff = time.Duration(s.RetryBackoffBaseMS) * time.Millisecond
	cfg.Temperature = s.SynthesisTemperature
	return cfg
}

func (s Settings) validate() error {
	if err := s.Limits().Validate(); err != nil {
		return err
	}
	return s.Policy().Validate()
}

// SessionOption overrides Settings for one session at creation time.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	limits memoryx.Limits
	policy llmx.Policy
}

func WithLimits(l memoryx.Limits) SessionOption {
	return func(c *sessionConfig) { c.limits = l }
}

func WithGatewayPolicy(p llmx.Policy) SessionOption {
	return func(c *sessionConfig) { c.policy = p }
}
