// Package ledger keeps the corpus of accepted sales-coaching lessons and the
// audit trail of processed transcripts. It deduplicates new lesson
// candidates against everything already learned and decides, heuristically,
// when new transcripts stop contributing new knowledge.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidState is returned when an event is started while another is
	// in flight, or completed with a transaction that is not the open one.
	ErrInvalidState = errors.New("invalid ledger state")
	// ErrPersistence is returned when the corpus or audit file cannot be
	// read or written.
	ErrPersistence = errors.New("ledger persistence failed")
)

const (
	sampleCount      = 3
	sampleExcerptLen = 100
	// DefaultTailSize is the number of events AuditTrailTail returns when
	// asked for a non-positive count.
	DefaultTailSize = 10
)

// Config holds the tuning constants. They are arbitrary heuristics, not
// statistically derived values.
type Config struct {
	SimilarityThreshold    float64
	PlateauWindow          time.Duration
	MinEvents              int
	MinAdditions           int
	HighDedupRate          float64
	LowUniqueness          float64
	TrendDelta             float64
	DiminishingReturnsRate float64
}

func DefaultConfig() Config {
	return Config{
		SimilarityThreshold:    0.85,
		PlateauWindow:          7 * 24 * time.Hour,
		MinEvents:              3,
		MinAdditions:           3,
		HighDedupRate:          0.8,
		LowUniqueness:          0.2,
		TrendDelta:             0.1,
		DiminishingReturnsRate: 0.6,
	}
}

func (c Config) windowDays() int {
	return int(c.PlateauWindow / (24 * time.Hour))
}

// Transaction is one open processing event. It is returned by Start and
// must be handed back to Complete on the same ledger.
type Transaction struct {
	id         string
	sourceFile string
	sourcePath string
	startedAt  time.Time
}

func (t *Transaction) ID() string           { return t.id }
func (t *Transaction) SourceFile() string   { return t.sourceFile }
func (t *Transaction) StartedAt() time.Time { return t.startedAt }

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger is the single writer of the corpus and audit files in one results
// directory. At most one Transaction is open at a time; running two
// ledgers against the same directory is not supported.
type Ledger struct {
	dir    string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	trail  *AuditTrail
	corpus *Corpus
	index  *dedupIndex
	active *Transaction
}

// Open loads the ledger stored in dir, creating the directory and a fresh
// audit file when none exists. A document that cannot be decoded is moved
// aside to <name>.corrupt-<unix> and replaced by an empty one.
func Open(dir string, cfg Config, logger *slog.Logger, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		dir:    dir,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create results dir: %v", ErrPersistence, err)
	}

	now := l.now().UTC()

	rolledBack, err := recoverCommit(l.journalPath(), []string{l.corpusPath(), l.auditPath()})
	if err != nil {
		return nil, fmt.Errorf("%w: recover interrupted commit: %v", ErrPersistence, err)
	}
	if rolledBack {
		logger.Warn("rolled back an interrupted commit", "dir", dir)
	}

	corpus := &Corpus{}
	if _, err := l.load(l.corpusPath(), corpus, now); err != nil {
		return nil, err
	}

	trail := &AuditTrail{}
	found, err := l.load(l.auditPath(), trail, now)
	if err != nil {
		return nil, err
	}
	if !found {
		trail = newAuditTrail(cfg, now)
		data, err := json.MarshalIndent(trail, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("%w: encode audit trail: %v", ErrPersistence, err)
		}
		if err := commitFiles(l.journalPath(), []pendingFile{{path: l.auditPath(), data: data}}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		logger.Info("created audit trail", "path", l.auditPath())
	}
	if trail.PlateauAnalysis.Categories == nil {
		trail.PlateauAnalysis.Categories = map[string]CategoryStats{}
	}

	l.trail = trail
	l.corpus = corpus
	l.index = newDedupIndex(cfg.SimilarityThreshold, corpus.knownTexts())

	logger.Info("ledger opened",
		"dir", dir,
		"events", len(trail.Events),
		"lessons", len(corpus.Lessons),
		"known_texts", l.index.size(),
		"plateaued", trail.GlobalTotals.Plateau.IsPlateaued,
	)
	return l, nil
}

// load decodes path into v. Undecodable files are quarantined and v is left
// empty with found=false.
func (l *Ledger) load(path string, v any, now time.Time) (bool, error) {
	found, err := readJSON(path, v)
	if err == nil {
		return found, nil
	}
	if !found {
		return false, fmt.Errorf("%w: read %s: %v", ErrPersistence, filepath.Base(path), err)
	}
	moved, qerr := quarantine(path, now)
	if qerr != nil {
		return false, fmt.Errorf("%w: %s is unreadable (%v) and could not be moved aside: %v", ErrPersistence, filepath.Base(path), err, qerr)
	}
	l.logger.Error("unreadable ledger file moved aside, starting empty",
		"path", path,
		"moved_to", moved,
		"error", err,
	)
	return false, nil
}

func (l *Ledger) auditPath() string   { return filepath.Join(l.dir, AuditFileName) }
func (l *Ledger) corpusPath() string  { return filepath.Join(l.dir, CorpusFileName) }
func (l *Ledger) journalPath() string { return filepath.Join(l.dir, journalFileName) }

// Start opens a processing event for sourceFile.
func (l *Ledger) Start(sourceFile string) (*Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active != nil {
		return nil, fmt.Errorf("%w: event %s is still in progress", ErrInvalidState, l.active.id)
	}

	now := l.now().UTC()
	tx := &Transaction{
		id:         newEventID(now),
		sourceFile: filepath.Base(sourceFile),
		sourcePath: sourceFile,
		startedAt:  now,
	}
	l.active = tx

	l.logger.Info("started processing event", "event_id", tx.id, "source_file", sourceFile)
	return tx, nil
}

func newEventID(now time.Time) string {
	return fmt.Sprintf("evt_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])
}

// Complete deduplicates candidates, records the event and persists the
// corpus and audit trail together. A transaction that is not the open one
// yields ErrInvalidState and changes nothing. A write failure yields
// ErrPersistence; the event is then dropped and the ledger keeps its
// previous state. Either way a matching transaction is closed.
func (l *Ledger) Complete(tx *Transaction, candidates []Candidate, duration time.Duration) (*ProcessingEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tx == nil || l.active != tx {
		id := "<nil>"
		if tx != nil {
			id = tx.id
		}
		l.logger.Error("no active event to complete", "event_id", id)
		return nil, fmt.Errorf("%w: no active event %s", ErrInvalidState, id)
	}
	defer func() { l.active = nil }()

	now := l.now().UTC()
	base := l.index.size()
	accepted, rejected := l.index.dedupe(candidates)

	next := l.trail.clone()
	event := record(next, tx, candidates, accepted, rejected, duration, now)

	records := make([]LessonRecord, len(accepted))
	for i, c := range accepted {
		records[i] = LessonRecord{
			Content:      c.Content,
			Type:         c.Type,
			QualityScore: c.QualityScore,
			SourceAgent:  c.SourceAgent,
			AddedAt:      now,
		}
	}
	nextCorpus := l.corpus.withLessons(records)

	newlyDetected := analyze(l.cfg, next, nextCorpus.Lessons, now)
	next.Metadata.LastUpdated = now

	if err := l.commit(next, nextCorpus); err != nil {
		l.index.truncate(base)
		l.logger.Error("failed to persist processing event", "event_id", tx.id, "error", err)
		return nil, err
	}

	l.trail = next
	l.corpus = nextCorpus

	l.logger.Info("completed processing event",
		"event_id", tx.id,
		"candidates", len(candidates),
		"accepted", len(accepted),
		"duplicates", len(rejected),
		"dedup_rate", next.GlobalTotals.DedupRate,
	)
	if newlyDetected {
		l.logger.Warn("learning plateau detected",
			"event_id", tx.id,
			"dedup_rate", next.GlobalTotals.DedupRate,
			"recent_additions", next.PlateauAnalysis.RecentAdditions,
		)
	}
	return &event, nil
}

// Abandon closes tx without recording an event. It is meant for runs that
// were cancelled before their results could be committed.
func (l *Ledger) Abandon(tx *Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tx == nil || l.active != tx {
		return fmt.Errorf("%w: transaction is not the active event", ErrInvalidState)
	}
	l.active = nil
	l.logger.Warn("abandoned processing event", "event_id", tx.id, "source_file", tx.sourceFile)
	return nil
}

// record applies one event to trail and returns the event as appended.
func record(trail *AuditTrail, tx *Transaction, candidates, accepted, rejected []Candidate, duration time.Duration, now time.Time) ProcessingEvent {
	categories := distinctTypes(candidates)

	totals := &trail.GlobalTotals
	totals.PDFsProcessed++
	totals.TotalRaw += len(candidates)
	totals.TotalNet += len(accepted)
	totals.TotalDuplicates += len(rejected)
	if totals.TotalRaw > 0 {
		totals.DedupRate = float64(totals.TotalDuplicates) / float64(totals.TotalRaw)
	}

	known := make(map[string]bool, len(totals.Categories))
	for _, c := range totals.Categories {
		known[c] = true
	}
	var fresh []string
	for _, c := range categories {
		if !known[c] {
			fresh = append(fresh, c)
			totals.Categories = append(totals.Categories, c)
		}
	}
	sort.Strings(totals.Categories)

	event := ProcessingEvent{
		EventID:                    tx.id,
		Timestamp:                  now,
		SourceFile:                 tx.sourceFile,
		SourcePath:                 tx.sourcePath,
		DurationSeconds:            duration.Seconds(),
		CandidatesExtracted:        len(candidates),
		LessonsAccepted:            len(accepted),
		LessonsRejectedAsDuplicate: len(rejected),
		CategoriesFound:            categories,
		NewCategories:              fresh,
		QualityScoreMean:           meanQuality(candidates),
		CumulativeTotals: CumulativeTotals{
			PDFsProcessed: totals.PDFsProcessed,
			RawLessons:    totals.TotalRaw,
			NetLessons:    totals.TotalNet,
			DedupRate:     totals.DedupRate,
		},
		SampleLessons: samples(accepted),
	}
	if len(candidates) > 0 {
		event.UniquenessContribution = float64(len(accepted)) / float64(len(candidates))
	}
	if event.CategoriesFound == nil {
		event.CategoriesFound = []string{}
	}
	if event.NewCategories == nil {
		event.NewCategories = []string{}
	}

	trail.Events = append(trail.Events, event)
	return event
}

func (l *Ledger) commit(trail *AuditTrail, corpus *Corpus) error {
	corpusData, err := json.MarshalIndent(corpus, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode corpus: %v", ErrPersistence, err)
	}
	auditData, err := json.MarshalIndent(trail, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode audit trail: %v", ErrPersistence, err)
	}
	files := []pendingFile{
		{path: l.corpusPath(), data: corpusData},
		{path: l.auditPath(), data: auditData},
	}
	if err := commitFiles(l.journalPath(), files); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func distinctTypes(candidates []Candidate) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range candidates {
		if !seen[c.Type] {
			seen[c.Type] = true
			out = append(out, c.Type)
		}
	}
	sort.Strings(out)
	return out
}

func meanQuality(candidates []Candidate) float64 {
	if len(candidates) == 0 {
		return 0
	}
	var sum float64
	for _, c := range candidates {
		sum += c.QualityScore
	}
	return sum / float64(len(candidates))
}

func samples(accepted []Candidate) []LessonSample {
	out := make([]LessonSample, 0, sampleCount)
	for i, c := range accepted {
		if i == sampleCount {
			break
		}
		excerpt := c.Content
		if r := []rune(excerpt); len(r) > sampleExcerptLen {
			excerpt = string(r[:sampleExcerptLen]) + "..."
		}
		out = append(out, LessonSample{
			Type:         c.Type,
			Excerpt:      excerpt,
			QualityScore: c.QualityScore,
			IsNewPattern: true,
		})
	}
	return out
}

// IsPlateaued reports the sticky plateau flag.
func (l *Ledger) IsPlateaued() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.trail.GlobalTotals.Plateau.IsPlateaued
}

// Recommendations returns the current status and recommended actions.
func (l *Ledger) Recommendations() Recommendations {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r := l.trail.Recommendations
	r.Actions = append([]string(nil), r.Actions...)
	return r
}

// Totals returns a copy of the global counters.
func (l *Ledger) Totals() GlobalTotals {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t := l.trail.GlobalTotals
	t.Categories = append([]string(nil), t.Categories...)
	return t
}

// CorpusSize is the number of accepted lessons recorded by this ledger.
func (l *Ledger) CorpusSize() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.corpus.Lessons)
}

// Lessons returns a copy of the accepted lessons in the order they were added.
func (l *Ledger) Lessons() []LessonRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]LessonRecord(nil), l.corpus.Lessons...)
}

// MetricsSummary projects the totals for dashboards. Recent additions are
// counted against the current time.
func (l *Ledger) MetricsSummary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	totals := l.trail.GlobalTotals
	recent := recentEvents(l.trail.Events, l.cfg.PlateauWindow, l.now().UTC())
	return Summary{
		TotalPDFsProcessed:  totals.PDFsProcessed,
		TotalLessons:        totals.TotalNet,
		DedupRate:           round(totals.DedupRate, 3),
		Plateaued:           totals.Plateau.IsPlateaued,
		RecentLessonsAdded:  sumAccepted(recent),
		UniqueCategories:    len(totals.Categories),
		Status:              l.trail.Recommendations.Status,
		EstimatedCompletion: round(l.trail.Recommendations.EstimatedCompletion, 1),
	}
}

// AuditTrailTail returns the last n events, oldest first. A non-positive n
// means DefaultTailSize.
func (l *Ledger) AuditTrailTail(n int) []EventSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 {
		n = DefaultTailSize
	}
	events := l.trail.Events
	if len(events) > n {
		events = events[len(events)-n:]
	}
	out := make([]EventSummary, len(events))
	for i, e := range events {
		out[i] = EventSummary{
			EventID:          e.EventID,
			Timestamp:        e.Timestamp,
			SourceFile:       e.SourceFile,
			CandidateLessons: e.CandidatesExtracted,
			NewLessons:       e.LessonsAccepted,
			Duplicates:       e.LessonsRejectedAsDuplicate,
			QualityScore:     e.QualityScoreMean,
			ProcessingTime:   e.DurationSeconds,
		}
	}
	return out
}

// EventCount is the number of committed events.
func (l *Ledger) EventCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trail.Events)
}

// CategoryBreakdown lists every category ever seen with its accepted lesson
// counts as of the last commit, sorted by name.
func (l *Ledger) CategoryBreakdown() []CategorySummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]CategorySummary, 0, len(l.trail.GlobalTotals.Categories))
	for _, name := range l.trail.GlobalTotals.Categories {
		s := l.trail.PlateauAnalysis.Categories[name]
		out = append(out, CategorySummary{
			Name:            name,
			TotalLessons:    s.TotalLessons,
			RecentAdditions: s.RecentAdditions,
		})
	}
	return out
}

// PlateauReport combines the plateau flag, trend and recommendations.
func (l *Ledger) PlateauReport() PlateauReport {
	l.mu.RLock()
	defer l.mu.RUnlock()

	totals := l.trail.GlobalTotals
	pa := l.trail.PlateauAnalysis
	r := PlateauReport{
		IsPlateaued:        totals.Plateau.IsPlateaued,
		Recommendations:    append([]string(nil), l.trail.Recommendations.Actions...),
		RecentLessonsAdded: pa.RecentAdditions,
		TrendDirection:     pa.TrendDirection,
		UniquenessRate:     pa.DiscoveryRate,
		DedupRate:          totals.DedupRate,
	}
	if totals.Plateau.DetectedAt != nil {
		t := *totals.Plateau.DetectedAt
		r.DetectedAt = &t
	}
	return r
}
