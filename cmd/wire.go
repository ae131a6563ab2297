package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/tanpawarit/agentic-research-assistant/agent/agents/orchestrator"
	llmx "github.com/tanpawarit/agentic-research-assistant/agent/llm"
	statex "github.com/tanpawarit/agentic-research-assistant/agent/state"
	toolx "github.com/tanpawarit/agentic-research-assistant/agent/tool"
	configx "github.com/tanpawarit/agentic-research-assistant/pkg/config"
	qstashx "github.com/tanpawarit/agentic-research-assistant/pkg/qstash"
)

func openStore(ctx context.Context) (statex.Store, error) {
	cfg, err := configx.New[statex.StoreConfig]("STORE")
	if err != nil {
		return nil, err
	}
	return statex.OpenStore(ctx, *cfg)
}

func newTools() (*toolx.Registry, error) {
	webCfg, err := configx.New[toolx.WebConfig]("WEB")
	if err != nil {
		return nil, err
	}
	return toolx.NewDefaultRegistry(*webCfg)
}

// newOrchestrator wires the backend, tools, store and optional turn sink from
// the environment.
func newOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	llmCfg, err := configx.New[llmx.Config]("LLM")
	if err != nil {
		return nil, err
	}
	settings, err := configx.New[orchestrator.Settings]("AGENT")
	if err != nil {
		return nil, err
	}
	backend, err := llmx.NewBackend(ctx, *llmCfg)
	if err != nil {
		return nil, err
	}
	tools, err := newTools()
	if err != nil {
		return nil, err
	}

	var opts []orchestrator.Option
	sink, err := newTurnSink()
	if err != nil {
		return nil, err
	}
	if sink != nil {
		opts = append(opts, orchestrator.WithTurnSink(sink))
	}

	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	o, err := orchestrator.New(backend, tools, store, settings.FromLLM(*llmCfg), opts...)
	if err != nil {
		return nil, multierr.Append(err, store.Close())
	}
	return o, nil
}

// newTurnSink publishes committed requests to QStash when QSTASH_TOKEN is set.
func newTurnSink() (orchestrator.TurnSink, error) {
	if strings.TrimSpace(os.Getenv("QSTASH_TOKEN")) == "" {
		return nil, nil
	}
	cfg, err := configx.New[qstashx.Config]("QSTASH")
	if err != nil {
		return nil, err
	}
	client, err := qstashx.NewClient(*cfg)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("destination", cfg.Destination).Msg("turn sink: qstash enabled")
	return qstashSink{client: client}, nil
}

type qstashSink struct {
	client *qstashx.Client
}

type turnMessage struct {
	SessionID string               `json:"session_id"`
	Record    statex.RequestRecord `json:"record"`
}

func (s qstashSink) Publish(ctx context.Context, sessionID string, rec statex.RequestRecord) error {
	id, err := s.client.PublishJSON(ctx, turnMessage{SessionID: sessionID, Record: rec}, rec.ID)
	if err != nil {
		return err
	}
	log.Debug().Str("session_id", sessionID).Str("message_id", id).Msg("turn sink: published")
	return nil
}
