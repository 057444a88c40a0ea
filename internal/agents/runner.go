package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/mentor/internal/anthropic"
	"github.com/MikeSquared-Agency/mentor/internal/ledger"
)

const systemPreamble = `You are a sales coaching analyst reviewing a recorded sales call transcript.
Analyse only what is explicitly stated in the transcript. Do not infer or add external information.
Reply with a single JSON object and nothing else.

`

// LLM is the completion call the runner needs.
type LLM interface {
	Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (string, error)
}

type Runner struct {
	catalog   *Catalog
	llm       LLM
	maxTokens int
	logger    *slog.Logger
	now       func() time.Time
}

func NewRunner(catalog *Catalog, llm LLM, maxTokens int, logger *slog.Logger) *Runner {
	return &Runner{
		catalog:   catalog,
		llm:       llm,
		maxTokens: maxTokens,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *Runner) Catalog() *Catalog { return r.catalog }

// Run analyses transcript with one agent and returns its result bundle,
// tagged with agent_name, status and analysis_date. Those keys in the
// reply itself are replaced.
func (r *Runner) Run(ctx context.Context, agentName, transcript string) (ledger.Value, error) {
	agent, ok := r.catalog.Get(agentName)
	if !ok {
		return ledger.Value{}, fmt.Errorf("unknown agent %q", agentName)
	}

	messages := []anthropic.Message{
		{Role: "user", Content: "Transcript to analyze:\n" + transcript},
	}

	r.logger.Debug("running agent",
		"agent", agentName,
		"phase", agent.Phase,
		"transcript_len", len(transcript),
	)

	raw, err := r.llm.Complete(ctx, systemPreamble+agent.Instruction, messages, r.maxTokens)
	if err != nil {
		return ledger.Value{}, fmt.Errorf("agent %s: %w", agentName, err)
	}

	obj, err := extractJSON(raw)
	if err != nil {
		r.logger.Error("failed to find JSON in agent reply", "agent", agentName, "error", err, "raw", truncate(raw, 500))
		return ledger.Value{}, fmt.Errorf("agent %s: %w", agentName, err)
	}
	v, err := ledger.ParseValue([]byte(obj))
	if err != nil {
		r.logger.Error("failed to parse agent reply", "agent", agentName, "error", err, "raw", truncate(raw, 500))
		return ledger.Value{}, fmt.Errorf("agent %s: parse reply: %w", agentName, err)
	}

	var fields []ledger.Field
	for _, f := range v.Fields() {
		switch f.Key {
		case "agent_name", "analysis_date", "status":
			continue
		}
		fields = append(fields, f)
	}
	fields = append(fields,
		ledger.Field{Key: "agent_name", Value: ledger.StringValue(agentName)},
		ledger.Field{Key: "status", Value: ledger.StringValue(ledger.AgentCompleted)},
		ledger.Field{Key: "analysis_date", Value: ledger.StringValue(r.now().UTC().Format(time.RFC3339))},
	)
	return ledger.ObjectValue(fields...), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
