package main

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MikeSquared-Agency/mentor/internal/agents"
	"github.com/MikeSquared-Agency/mentor/internal/anthropic"
	"github.com/MikeSquared-Agency/mentor/internal/archive"
	"github.com/MikeSquared-Agency/mentor/internal/coaching"
	"github.com/MikeSquared-Agency/mentor/internal/config"
	"github.com/MikeSquared-Agency/mentor/internal/hermes"
	"github.com/MikeSquared-Agency/mentor/internal/ledger"
	"github.com/MikeSquared-Agency/mentor/internal/metrics"
	"github.com/MikeSquared-Agency/mentor/internal/pipeline"
	"github.com/MikeSquared-Agency/mentor/internal/slack"
)

// stack is everything an analysis run needs.
type stack struct {
	ledger   *ledger.Ledger
	analyzer *pipeline.Analyzer
	archive  *archive.Store
	hermes   *hermes.Client
	slack    *slack.Poster
	registry *prometheus.Registry
}

func (s *stack) close() {
	if s.hermes != nil {
		s.hermes.Close()
	}
}

func openLedger(cfg config.Config) (*ledger.Ledger, error) {
	return ledger.Open(cfg.ResultsDir, cfg.Ledger(), slog.Default())
}

func buildStack(ctx context.Context, cfg config.Config) (*stack, error) {
	l, err := openLedger(cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("ledger opened", "dir", cfg.ResultsDir, "events", l.EventCount(), "lessons", l.CorpusSize())

	// Anthropic client
	if cfg.AnthropicAPIKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY is required")
	}
	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.AgentTimeout)
	slog.Info("anthropic client ready", "model", llm.Model())

	catalog, err := agents.DefaultCatalog()
	if err != nil {
		return nil, err
	}
	runner := agents.NewRunner(catalog, llm, cfg.AgentMaxTokens, slog.Default())

	s := &stack{ledger: l, registry: prometheus.NewRegistry()}
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(s.registry)
	m.SetLedgerState(l.Totals(), l.CorpusSize())

	s.archive = archive.NewStore(filepath.Join(cfg.ResultsDir, "analyses"), topics(catalog), slog.Default())

	opts := pipeline.Options{
		Workers:      cfg.AgentWorkers,
		AgentTimeout: cfg.AgentTimeout,
		Metrics:      m,
		Archive:      s.archive,
	}

	// NATS/Hermes (optional)
	if cfg.NatsURL != "" {
		hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			return nil, err
		}
		s.hermes = hc
		opts.Publisher = hc
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS_URL not set, ledger events will not be published")
	}

	// Slack poster (optional)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		s.slack = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		opts.Alerter = s.slack
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, plateau alerts will only be logged")
	}

	s.analyzer = pipeline.New(l, runner, catalog.Names(), opts, slog.Default())
	return s, nil
}

// topics orders the coaching guide sections by the agent catalog.
func topics(c *agents.Catalog) []coaching.Topic {
	out := make([]coaching.Topic, 0, c.Len())
	for _, name := range c.Names() {
		a, _ := c.Get(name)
		out = append(out, coaching.Topic{Name: a.Name, Title: a.Title})
	}
	return out
}
