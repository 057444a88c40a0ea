// Package pipeline runs every analysis agent over one transcript and records
// the harvested lessons in the ledger.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/mentor/internal/archive"
	"github.com/MikeSquared-Agency/mentor/internal/ledger"
	"github.com/MikeSquared-Agency/mentor/internal/metrics"
)

// AgentRunner runs one named agent over a transcript.
type AgentRunner interface {
	Run(ctx context.Context, agentName, transcript string) (ledger.Value, error)
}

// Publisher announces ledger changes to other services.
type Publisher interface {
	PublishEventCompleted(ev *ledger.ProcessingEvent) error
	PublishPlateauDetected(r ledger.PlateauReport) error
}

// Alerter notifies humans when learning plateaus.
type Alerter interface {
	PostPlateauAlert(ctx context.Context, r ledger.PlateauReport, s ledger.Summary) (string, error)
}

// Archiver keeps the output files of an analysis run.
type Archiver interface {
	Save(a archive.Analysis) (*archive.Manifest, error)
}

// ProgressFunc receives human-readable progress messages. It may be called
// from several goroutines at once.
type ProgressFunc func(msg string)

// Options configures an Analyzer. Everything but Workers and AgentTimeout
// is optional.
type Options struct {
	Workers      int
	AgentTimeout time.Duration
	Metrics      *metrics.Metrics
	Publisher    Publisher
	Alerter      Alerter
	Archive      Archiver
}

type Analyzer struct {
	ledger       *ledger.Ledger
	runner       AgentRunner
	agents       []string
	workers      int
	agentTimeout time.Duration
	metrics      *metrics.Metrics
	publisher    Publisher
	alerter      Alerter
	archive      Archiver
	logger       *slog.Logger
	now          func() time.Time
}

func New(l *ledger.Ledger, runner AgentRunner, agents []string, opts Options, logger *slog.Logger) *Analyzer {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Analyzer{
		ledger:       l,
		runner:       runner,
		agents:       agents,
		workers:      workers,
		agentTimeout: opts.AgentTimeout,
		metrics:      opts.Metrics,
		publisher:    opts.Publisher,
		alerter:      opts.Alerter,
		archive:      opts.Archive,
		logger:       logger,
		now:          time.Now,
	}
}

// Report describes one analysis run.
type Report struct {
	AnalysisID   string                  `json:"analysis_id"`
	SourceFile   string                  `json:"source_file"`
	AgentResults map[string]ledger.Value `json:"agent_results"`
	FailedAgents []string                `json:"failed_agents"`
	Candidates   int                     `json:"candidates"`
	Event        *ledger.ProcessingEvent `json:"event,omitempty"`
	Warnings     []string                `json:"warnings,omitempty"`
	Plateaued    bool                    `json:"plateaued"`
	Files        map[string]string       `json:"files,omitempty"`
	Duration     time.Duration           `json:"-"`
}

// Analyze runs all agents over transcript and records the lessons they
// yield. Agent failures become error bundles and never fail the run. A
// ledger write failure, like a failure to save the output files, is
// reported as a warning. Analyze only fails when no
// event can be opened or ctx is cancelled.
func (a *Analyzer) Analyze(ctx context.Context, sourceFile, transcript string, progress ProgressFunc) (*Report, error) {
	if progress == nil {
		progress = func(string) {}
	}

	wasPlateaued := a.ledger.IsPlateaued()
	tx, err := a.ledger.Start(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("start processing event: %w", err)
	}
	start := a.now()

	a.logger.Info("analyzing transcript",
		"event_id", tx.ID(),
		"source_file", sourceFile,
		"agents", len(a.agents),
		"transcript_len", len(transcript),
	)
	progress(fmt.Sprintf("Running %d analysis agents", len(a.agents)))

	results, failed := a.runAgents(ctx, transcript, progress)
	if err := ctx.Err(); err != nil {
		_ = a.ledger.Abandon(tx)
		return nil, fmt.Errorf("analysis of %s cancelled: %w", sourceFile, err)
	}

	candidates := ledger.ExtractCandidates(results)
	progress(fmt.Sprintf("Extracted %d lesson candidates", len(candidates)))

	report := &Report{
		AnalysisID:   tx.ID(),
		SourceFile:   sourceFile,
		AgentResults: results,
		FailedAgents: failed,
		Candidates:   len(candidates),
	}
	if len(failed) > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d of %d agents failed", len(failed), len(a.agents)))
	}

	elapsed := a.now().Sub(start)
	ev, err := a.ledger.Complete(tx, candidates, elapsed)
	report.Duration = elapsed
	if err != nil {
		a.logger.Warn("lessons not recorded", "event_id", tx.ID(), "source_file", sourceFile, "error", err)
		if a.metrics != nil {
			a.metrics.CommitFailures.Inc()
		}
		msg := fmt.Sprintf("lessons from this transcript were not recorded: %v", err)
		report.Warnings = append(report.Warnings, msg)
		progress("Warning: " + msg)
	} else {
		report.Event = ev
		progress(fmt.Sprintf("Recorded %d new lessons (%d duplicates)", ev.LessonsAccepted, ev.LessonsRejectedAsDuplicate))
	}
	report.Plateaued = a.ledger.IsPlateaued()

	a.saveFiles(report, start, progress)

	if ev != nil {
		a.afterCommit(ctx, ev, !wasPlateaued && report.Plateaued)
	}
	return report, nil
}

// saveFiles hands the finished run to the archive, if one is configured.
func (a *Analyzer) saveFiles(report *Report, started time.Time, progress ProgressFunc) {
	if a.archive == nil {
		return
	}
	m, err := a.archive.Save(archive.Analysis{
		ID:           report.AnalysisID,
		SourceFile:   report.SourceFile,
		CreatedAt:    started,
		Agents:       a.agents,
		Results:      report.AgentResults,
		FailedAgents: report.FailedAgents,
		Candidates:   report.Candidates,
		Event:        report.Event,
	})
	if err != nil {
		a.logger.Warn("analysis files not saved", "analysis_id", report.AnalysisID, "error", err)
		msg := fmt.Sprintf("analysis files were not saved: %v", err)
		report.Warnings = append(report.Warnings, msg)
		progress("Warning: " + msg)
		return
	}
	report.Files = m.Files
	progress(fmt.Sprintf("Saved %d analysis files", len(m.Files)))
}

// runAgents fans the transcript out to every agent, at most a.workers at a
// time, and joins the bundles into one map.
func (a *Analyzer) runAgents(ctx context.Context, transcript string, progress ProgressFunc) (map[string]ledger.Value, []string) {
	bundles := make([]ledger.Value, len(a.agents))
	errs := make([]error, len(a.agents))

	var g errgroup.Group
	g.SetLimit(a.workers)
	for i, name := range a.agents {
		g.Go(func() error {
			bundles[i], errs[i] = a.runAgent(ctx, name, transcript)
			if errs[i] != nil {
				progress(fmt.Sprintf("Agent %s failed: %v", name, errs[i]))
			} else {
				progress(fmt.Sprintf("Agent %s completed", name))
			}
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]ledger.Value, len(a.agents))
	var failed []string
	for i, name := range a.agents {
		if errs[i] != nil {
			failed = append(failed, name)
			results[name] = errorBundle(name, errs[i])
			continue
		}
		results[name] = bundles[i]
	}
	return results, failed
}

func (a *Analyzer) runAgent(ctx context.Context, name, transcript string) (ledger.Value, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Value{}, err
	}
	if a.agentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.agentTimeout)
		defer cancel()
	}

	start := a.now()
	v, err := a.runner.Run(ctx, name, transcript)
	if a.metrics != nil {
		a.metrics.ObserveAgent(name, a.now().Sub(start), err)
	}
	if err != nil {
		a.logger.Error("agent failed", "agent", name, "error", err)
	}
	return v, err
}

func errorBundle(agent string, err error) ledger.Value {
	return ledger.ObjectValue(
		ledger.Field{Key: "agent_name", Value: ledger.StringValue(agent)},
		ledger.Field{Key: "status", Value: ledger.StringValue(ledger.AgentFailed)},
		ledger.Field{Key: "error", Value: ledger.StringValue(err.Error())},
	)
}

func (a *Analyzer) afterCommit(ctx context.Context, ev *ledger.ProcessingEvent, newPlateau bool) {
	if a.metrics != nil {
		a.metrics.RecordEvent(ev)
		a.metrics.SetLedgerState(a.ledger.Totals(), a.ledger.CorpusSize())
	}

	if a.publisher != nil {
		if err := a.publisher.PublishEventCompleted(ev); err != nil {
			a.logger.Warn("failed to publish event", "event_id", ev.EventID, "error", err)
		}
	}

	if !newPlateau {
		return
	}
	report := a.ledger.PlateauReport()
	if a.publisher != nil {
		if err := a.publisher.PublishPlateauDetected(report); err != nil {
			a.logger.Warn("failed to publish plateau", "event_id", ev.EventID, "error", err)
		}
	}
	if a.alerter != nil {
		if _, err := a.alerter.PostPlateauAlert(ctx, report, a.ledger.MetricsSummary()); err != nil {
			a.logger.Warn("failed to post plateau alert", "event_id", ev.EventID, "error", err)
		}
	}
}
