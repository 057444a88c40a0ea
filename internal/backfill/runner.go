// Package backfill ingests a directory of transcripts into the ledger,
// resuming where an earlier run stopped.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/mentor/internal/pipeline"
	"github.com/MikeSquared-Agency/mentor/internal/transcript"
)

// Config holds the ingest command configuration.
type Config struct {
	Path          string // a transcript file or a directory of transcripts
	StatePath     string
	StopOnPlateau bool
}

// Analyzer analyzes one transcript.
type Analyzer interface {
	Analyze(ctx context.Context, sourceFile, text string, progress pipeline.ProgressFunc) (*pipeline.Report, error)
}

// PlateauChecker reports whether the ledger has plateaued.
type PlateauChecker interface {
	IsPlateaued() bool
}

// Notifier posts a run summary, e.g. to Slack.
type Notifier interface {
	Post(ctx context.Context, text string) (string, error)
}

// FileSummary is the outcome of one ingested transcript.
type FileSummary struct {
	Path       string
	EventID    string
	Candidates int
	Accepted   int
	Duplicates int
	Warnings   int
}

// Summary is the outcome of one ingest run.
type Summary struct {
	Discovered       int
	Skipped          int
	Files            []FileSummary
	Errors           []string
	StoppedOnPlateau bool
}

// Runner orchestrates the ingest process.
type Runner struct {
	cfg      Config
	analyzer Analyzer
	plateau  PlateauChecker
	notifier Notifier
	extract  func(path string) (string, error)
	logger   *slog.Logger
}

// NewRunner creates an ingest runner. notifier may be nil.
func NewRunner(cfg Config, analyzer Analyzer, plateau PlateauChecker, notifier Notifier, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		analyzer: analyzer,
		plateau:  plateau,
		notifier: notifier,
		extract:  transcript.ExtractText,
		logger:   logger,
	}
}

// Run analyzes every transcript whose content is not yet recorded in the
// state file, one at a time, saving state after each file.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	files, err := discoverFiles(r.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	summary := &Summary{Discovered: len(files)}
	type pending struct{ path, digest string }
	var todo []pending
	queued := make(map[string]bool)
	for _, f := range files {
		digest, err := fileDigest(f)
		if err != nil {
			r.addError(state, summary, f, fmt.Sprintf("read %s: %v", f, err))
			continue
		}
		if prev, ok := state.Seen(digest); ok || queued[digest] {
			if ok && prev.Path != f {
				r.logger.Info("skipping copy of an ingested transcript", "path", f, "original", prev.Path)
			}
			summary.Skipped++
			continue
		}
		queued[digest] = true
		todo = append(todo, pending{path: f, digest: digest})
	}
	state.FilesRemaining = len(todo)

	r.logger.Info("files discovered",
		"total", len(files),
		"already_processed", summary.Skipped,
		"to_process", len(todo),
	)

	if r.cfg.StopOnPlateau && r.plateau.IsPlateaued() {
		r.logger.Warn("ledger already plateaued, nothing to ingest")
		summary.StoppedOnPlateau = true
		return summary, nil
	}

	for _, p := range todo {
		path := p.path
		select {
		case <-ctx.Done():
			r.logger.Info("ingest interrupted, saving state")
			_ = state.Save()
			r.postSummary(ctx, summary)
			return summary, ctx.Err()
		default:
		}

		r.logger.Info("processing file", "path", path)

		text, err := r.extract(path)
		if err != nil {
			r.logger.Warn("failed to extract transcript", "path", path, "error", err)
			r.addError(state, summary, path, fmt.Sprintf("extract %s: %v", path, err))
			continue
		}

		report, err := r.analyzer.Analyze(ctx, path, text, nil)
		if err != nil {
			if ctx.Err() != nil {
				_ = state.Save()
				r.postSummary(ctx, summary)
				return summary, ctx.Err()
			}
			r.logger.Error("analysis failed", "path", path, "error", err)
			r.addError(state, summary, path, fmt.Sprintf("analyze %s: %v", path, err))
			continue
		}
		if report.Event == nil {
			// Agents ran but the ledger commit failed; retry the file next run.
			r.addError(state, summary, path, fmt.Sprintf("record %s: %s", path, strings.Join(report.Warnings, "; ")))
			continue
		}

		ev := report.Event
		file := FileSummary{
			Path:       path,
			EventID:    ev.EventID,
			Candidates: report.Candidates,
			Accepted:   ev.LessonsAccepted,
			Duplicates: ev.LessonsRejectedAsDuplicate,
			Warnings:   len(report.Warnings),
		}
		summary.Files = append(summary.Files, file)

		state.Record(FileRecord{
			Path:        path,
			Digest:      p.digest,
			EventID:     ev.EventID,
			ProcessedAt: ev.Timestamp,
			Candidates:  file.Candidates,
			Accepted:    file.Accepted,
			Duplicates:  file.Duplicates,
		})
		state.FilesRemaining--
		if report.Plateaued {
			state.MarkPlateau(ev.EventID, ev.Timestamp)
		}
		if err := state.Save(); err != nil {
			r.logger.Warn("failed to save ingest state", "error", err)
		}

		r.logger.Info("file processed",
			"path", path,
			"event_id", ev.EventID,
			"accepted", file.Accepted,
			"duplicates", file.Duplicates,
			"plateaued", report.Plateaued,
		)

		if r.cfg.StopOnPlateau && report.Plateaued {
			r.logger.Warn("learning plateau reached, stopping ingest", "remaining", state.FilesRemaining)
			summary.StoppedOnPlateau = true
			break
		}
	}

	_ = state.Save()
	r.postSummary(ctx, summary)

	r.logger.Info("ingest complete",
		"files_processed", len(summary.Files),
		"errors", len(summary.Errors),
		"stopped_on_plateau", summary.StoppedOnPlateau,
	)
	return summary, nil
}

func (r *Runner) addError(state *State, summary *Summary, path, msg string) {
	state.Fail(path, msg)
	summary.Errors = append(summary.Errors, msg)
}

// postSummary posts the run summary to Slack. Without a notifier it logs the
// summary instead.
func (r *Runner) postSummary(ctx context.Context, summary *Summary) {
	if len(summary.Files) == 0 && len(summary.Errors) == 0 {
		return
	}

	text := FormatSummary(summary)

	if r.notifier == nil {
		r.logger.Info("ingest summary (no Slack configured)", "summary", text)
		return
	}

	if _, err := r.notifier.Post(ctx, text); err != nil {
		r.logger.Warn("failed to post ingest summary to Slack, logging instead",
			"error", err,
			"summary", text,
		)
	}
}

// FormatSummary renders an ingest summary as Slack mrkdwn.
func FormatSummary(s *Summary) string {
	accepted, duplicates := 0, 0
	for _, f := range s.Files {
		accepted += f.Accepted
		duplicates += f.Duplicates
	}

	var sb strings.Builder
	sb.WriteString("*Transcript Ingest Summary*\n")
	fmt.Fprintf(&sb, "%d files, %d new lessons, %d duplicates\n", len(s.Files), accepted, duplicates)
	for _, f := range s.Files {
		fmt.Fprintf(&sb, "  - %s: %d new, %d dup", filepath.Base(f.Path), f.Accepted, f.Duplicates)
		if f.Warnings > 0 {
			fmt.Fprintf(&sb, " (%d warnings)", f.Warnings)
		}
		sb.WriteString("\n")
	}
	if len(s.Errors) > 0 {
		fmt.Fprintf(&sb, "%d files failed\n", len(s.Errors))
	}
	if s.StoppedOnPlateau {
		sb.WriteString(":warning: Stopped early: learning plateau reached\n")
	}
	return sb.String()
}

// discoverFiles returns the supported transcripts under root, sorted. A
// single file is returned as is.
func discoverFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if !transcript.Supported(root) {
			return nil, fmt.Errorf("%s: %w", root, transcript.ErrUnsupportedFormat)
		}
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if !d.IsDir() && transcript.Supported(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
