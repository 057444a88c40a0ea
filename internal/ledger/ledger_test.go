package ledger

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var freshLessons = []string{
	"Ask about the prospect's current vendor before pitching",
	"Use silence after stating the price to let it land",
	"Mirror the customer's pace when building rapport early",
	"Handle the budget objection by splitting cost per seat",
	"Create urgency with a concrete implementation deadline",
	"Respond to stalls by asking what would change next quarter",
	"Quantify the pain in dollars before presenting any solution",
	"Close every call by booking the next meeting on the calendar",
	"Say the customer's name when recapping agreed priorities",
	"Build a champion by sharing an internal business case draft",
	"Strategy: lead with a customer story from the same industry",
	"Offer two pricing options instead of a single quote",
	"Uncover competing initiatives that could steal the budget",
	"Technique of labeling emotions defuses angry prospects fast",
	"Send a written recap within one hour after the demo ends",
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func openLedger(t *testing.T, dir string, clock *testClock) *Ledger {
	t.Helper()
	l, err := Open(dir, DefaultConfig(), discardLogger(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

func candidates(typ string, texts ...string) []Candidate {
	out := make([]Candidate, len(texts))
	for i, text := range texts {
		out[i] = Candidate{
			Type:          typ,
			Content:       text,
			SourceAgent:   typ + "_agent",
			ExtractionKey: "insights",
			QualityScore:  EstimateQuality(text),
		}
	}
	return out
}

func runEvent(t *testing.T, l *Ledger, source string, cands []Candidate) *ProcessingEvent {
	t.Helper()
	tx, err := l.Start(source)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	ev, err := l.Complete(tx, cands, 2*time.Second)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	return ev
}

func assertTotalsInvariant(t *testing.T, l *Ledger) {
	t.Helper()
	tot := l.Totals()
	if tot.TotalNet+tot.TotalDuplicates != tot.TotalRaw {
		t.Fatalf("net %d + duplicates %d != raw %d", tot.TotalNet, tot.TotalDuplicates, tot.TotalRaw)
	}
	if tot.DedupRate < 0 || tot.DedupRate > 1 {
		t.Fatalf("dedup rate %v out of range", tot.DedupRate)
	}
}

func TestOpen_CreatesAuditTrail(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	l := openLedger(t, dir, newClock())

	if _, err := os.Stat(filepath.Join(dir, AuditFileName)); err != nil {
		t.Fatalf("audit file not created: %v", err)
	}
	if l.EventCount() != 0 || l.CorpusSize() != 0 || l.IsPlateaued() {
		t.Error("fresh ledger should be empty and not plateaued")
	}
	if got := l.Recommendations().Status; got != StatusActiveLearning {
		t.Errorf("status = %q, want %q", got, StatusActiveLearning)
	}
}

func TestLedger_StartWhileActive(t *testing.T) {
	l := openLedger(t, t.TempDir(), newClock())

	if _, err := l.Start("a.pdf"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := l.Start("b.pdf"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Start err = %v, want ErrInvalidState", err)
	}
}

func TestLedger_CompleteWithForeignTransaction(t *testing.T) {
	clock := newClock()
	l := openLedger(t, t.TempDir(), clock)
	other := openLedger(t, t.TempDir(), clock)

	tx, err := l.Start("a.pdf")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	foreign, err := other.Start("b.pdf")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, bad := range []*Transaction{nil, foreign} {
		if _, err := l.Complete(bad, candidates("x", freshLessons[0]), time.Second); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Complete(%v) err = %v, want ErrInvalidState", bad, err)
		}
	}
	if l.EventCount() != 0 || l.CorpusSize() != 0 {
		t.Fatal("invalid Complete changed ledger state")
	}

	if _, err := l.Complete(tx, candidates("x", freshLessons[0]), time.Second); err != nil {
		t.Fatalf("Complete with the open transaction: %v", err)
	}
	if _, err := l.Complete(tx, nil, time.Second); !errors.Is(err, ErrInvalidState) {
		t.Errorf("completing twice err = %v, want ErrInvalidState", err)
	}
}

func TestLedger_EmptyCandidates(t *testing.T) {
	l := openLedger(t, t.TempDir(), newClock())

	runEvent(t, l, "first.pdf", candidates("x", freshLessons[0], freshLessons[0]))
	before := l.Totals().DedupRate

	ev := runEvent(t, l, "empty.pdf", nil)
	if ev.LessonsAccepted != 0 || ev.LessonsRejectedAsDuplicate != 0 || ev.CandidatesExtracted != 0 {
		t.Errorf("event = %+v, want zero counts", ev)
	}
	if ev.UniquenessContribution != 0 {
		t.Errorf("uniqueness = %v, want 0", ev.UniquenessContribution)
	}
	if got := l.Totals().DedupRate; got != before {
		t.Errorf("dedup rate = %v, want unchanged %v", got, before)
	}
	if l.EventCount() != 2 {
		t.Errorf("events = %d, want 2", l.EventCount())
	}
	if l.Totals().PDFsProcessed != 2 {
		t.Errorf("pdfs processed = %d, want 2", l.Totals().PDFsProcessed)
	}
}

func TestLedger_FirstEventWithNoCandidatesKeepsZeroRate(t *testing.T) {
	l := openLedger(t, t.TempDir(), newClock())
	runEvent(t, l, "empty.pdf", nil)

	if got := l.Totals().DedupRate; got != 0 {
		t.Errorf("dedup rate = %v, want 0", got)
	}
	assertTotalsInvariant(t, l)
}

func TestLedger_InBatchDuplicate(t *testing.T) {
	l := openLedger(t, t.TempDir(), newClock())

	ev := runEvent(t, l, "dup.pdf", candidates("closing", freshLessons[7], freshLessons[7]))
	if ev.LessonsAccepted != 1 || ev.LessonsRejectedAsDuplicate != 1 {
		t.Errorf("accepted=%d rejected=%d, want 1/1", ev.LessonsAccepted, ev.LessonsRejectedAsDuplicate)
	}
	if l.CorpusSize() != 1 {
		t.Errorf("corpus size = %d, want 1", l.CorpusSize())
	}
}

func TestLedger_CrossBatchDuplicate(t *testing.T) {
	l := openLedger(t, t.TempDir(), newClock())

	runEvent(t, l, "a.pdf", candidates("discovery", "Always ask open-ended questions about budget early in the call"))
	ev := runEvent(t, l, "b.pdf", candidates("discovery", "always ask open ended questions about the budget early in the call"))
	if ev.LessonsRejectedAsDuplicate != 1 {
		t.Errorf("rejected = %d, want 1", ev.LessonsRejectedAsDuplicate)
	}
}

func TestLedger_SteadyLearningDoesNotPlateau(t *testing.T) {
	clock := newClock()
	l := openLedger(t, t.TempDir(), clock)

	for i := 0; i < 3; i++ {
		ev := runEvent(t, l, "call.pdf", candidates("rapport", freshLessons[i*5:(i+1)*5]...))
		if ev.LessonsAccepted != 5 {
			t.Fatalf("event %d accepted %d, want 5", i, ev.LessonsAccepted)
		}
		clock.Advance(time.Hour)
		if l.IsPlateaued() {
			t.Fatalf("plateaued after event %d", i)
		}
	}
	if got := l.Totals().DedupRate; got >= 0.5 {
		t.Errorf("dedup rate = %v, want < 0.5", got)
	}
	if got := l.Recommendations().Status; got != StatusActiveLearning {
		t.Errorf("status = %q", got)
	}
}

func TestLedger_RepeatedDuplicatesPlateau(t *testing.T) {
	clock := newClock()
	l := openLedger(t, t.TempDir(), clock)
	batch := candidates("objection", freshLessons[:5]...)

	runEvent(t, l, "seed.pdf", batch)
	for i := 1; i <= 5; i++ {
		clock.Advance(time.Minute)
		ev := runEvent(t, l, "repeat.pdf", batch)
		if ev.LessonsAccepted != 0 {
			t.Fatalf("repeat %d accepted %d lessons", i, ev.LessonsAccepted)
		}
		assertTotalsInvariant(t, l)

		// The cumulative rate only exceeds 0.8 once 5 of 6 events are duplicates.
		if want := i == 5; l.IsPlateaued() != want {
			t.Fatalf("after repeat %d plateaued = %v, want %v (dedup rate %v)", i, l.IsPlateaued(), want, l.Totals().DedupRate)
		}
	}

	report := l.PlateauReport()
	if report.DetectedAt == nil || !report.DetectedAt.Equal(clock.Now()) {
		t.Errorf("detected at = %v, want %v", report.DetectedAt, clock.Now())
	}
	if report.TrendDirection != TrendStable {
		t.Errorf("trend = %q, want stable", report.TrendDirection)
	}
	if got := l.Recommendations(); got.Status != StatusPlateauReached || len(got.Actions) == 0 {
		t.Errorf("recommendations = %+v", got)
	}
}

func TestLedger_PlateauIsSticky(t *testing.T) {
	clock := newClock()
	l := openLedger(t, t.TempDir(), clock)
	batch := candidates("objection", freshLessons[:5]...)

	runEvent(t, l, "seed.pdf", batch)
	for i := 0; i < 5; i++ {
		clock.Advance(time.Minute)
		runEvent(t, l, "repeat.pdf", batch)
	}
	if !l.IsPlateaued() {
		t.Fatal("expected plateau")
	}
	detected := *l.PlateauReport().DetectedAt

	clock.Advance(30 * 24 * time.Hour)
	runEvent(t, l, "fresh.pdf", candidates("closing", freshLessons[5:]...))
	runEvent(t, l, "empty.pdf", nil)

	if !l.IsPlateaued() {
		t.Error("plateau cleared after fresh lessons")
	}
	if got := *l.PlateauReport().DetectedAt; !got.Equal(detected) {
		t.Errorf("detected at moved from %v to %v", detected, got)
	}

	reopened := openLedger(t, l.dir, clock)
	if !reopened.IsPlateaued() {
		t.Error("plateau lost on reload")
	}
}

func TestLedger_WindowExcludesOldEvents(t *testing.T) {
	for _, tt := range []struct {
		name      string
		gap       time.Duration
		plateaued bool
	}{
		{"seed inside window", time.Hour, false},
		{"seed outside window", 8 * 24 * time.Hour, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClock()
			l := openLedger(t, t.TempDir(), clock)
			batch := candidates("objection", freshLessons[:5]...)

			runEvent(t, l, "seed.pdf", batch)
			clock.Advance(tt.gap)
			for i := 0; i < 3; i++ {
				clock.Advance(time.Minute)
				runEvent(t, l, "repeat.pdf", batch)
			}
			// dedup rate is 15/20, so only the addition and uniqueness
			// indicators can trip.
			if l.IsPlateaued() != tt.plateaued {
				t.Errorf("plateaued = %v, want %v", l.IsPlateaued(), tt.plateaued)
			}
		})
	}
}

func TestLedger_TooFewRecentEvents(t *testing.T) {
	clock := newClock()
	l := openLedger(t, t.TempDir(), clock)
	batch := candidates("objection", freshLessons[:5]...)

	runEvent(t, l, "seed.pdf", batch)
	for i := 0; i < 6; i++ {
		clock.Advance(8 * 24 * time.Hour)
		runEvent(t, l, "repeat.pdf", batch)
	}
	if l.IsPlateaued() {
		t.Error("plateau evaluated with a single event in the window")
	}
	if got := l.Recommendations().Status; got != StatusDiminishingReturns {
		t.Errorf("status = %q, want %q", got, StatusDiminishingReturns)
	}
}

func TestLedger_TotalsAndCorpusGrowth(t *testing.T) {
	clock := newClock()
	l := openLedger(t, t.TempDir(), clock)

	batches := [][]Candidate{
		candidates("a", freshLessons[0], freshLessons[1], freshLessons[0]),
		candidates("b", freshLessons[1], freshLessons[2]),
		nil,
		candidates("c", freshLessons[3], freshLessons[4], freshLessons[5], freshLessons[3]),
		candidates("a", freshLessons[:6]...),
	}
	accepted, lastSize := 0, 0
	for _, b := range batches {
		clock.Advance(time.Hour)
		ev := runEvent(t, l, "x.pdf", b)
		accepted += ev.LessonsAccepted
		assertTotalsInvariant(t, l)

		if l.CorpusSize() < lastSize {
			t.Fatalf("corpus shrank from %d to %d", lastSize, l.CorpusSize())
		}
		lastSize = l.CorpusSize()
		if lastSize != accepted {
			t.Fatalf("corpus size %d != accepted sum %d", lastSize, accepted)
		}
	}
	if accepted != 6 {
		t.Errorf("accepted = %d, want 6", accepted)
	}
	if got := l.Totals().TotalRaw; got != 15 {
		t.Errorf("raw = %d, want 15", got)
	}
}

func TestLedger_EventRecord(t *testing.T) {
	clock := newClock()
	l := openLedger(t, t.TempDir(), clock)
	long := strings.Repeat("Handle every pricing objection with a value recap. ", 4)

	cands := append(candidates("objection", long, freshLessons[0], freshLessons[0]), candidates("closing", freshLessons[7], freshLessons[8])...)
	ev := runEvent(t, l, filepath.Join("uploads", "acme-call.pdf"), cands)

	if !strings.HasPrefix(ev.EventID, "evt_20250301_120000_") {
		t.Errorf("event id = %q", ev.EventID)
	}
	if ev.SourceFile != "acme-call.pdf" || ev.SourcePath != filepath.Join("uploads", "acme-call.pdf") {
		t.Errorf("source = %q / %q", ev.SourceFile, ev.SourcePath)
	}
	if ev.DurationSeconds != 2 {
		t.Errorf("duration = %v", ev.DurationSeconds)
	}
	if got := strings.Join(ev.CategoriesFound, ","); got != "closing,objection" {
		t.Errorf("categories = %q", got)
	}
	if got := strings.Join(ev.NewCategories, ","); got != "closing,objection" {
		t.Errorf("new categories = %q", got)
	}
	if ev.LessonsAccepted != 4 || ev.LessonsRejectedAsDuplicate != 1 {
		t.Errorf("accepted=%d rejected=%d", ev.LessonsAccepted, ev.LessonsRejectedAsDuplicate)
	}
	if ev.UniquenessContribution != 0.8 {
		t.Errorf("uniqueness = %v, want 0.8", ev.UniquenessContribution)
	}
	var sum float64
	for _, c := range cands {
		sum += c.QualityScore
	}
	if want := sum / 5; ev.QualityScoreMean != want {
		t.Errorf("quality mean = %v, want %v", ev.QualityScoreMean, want)
	}
	if len(ev.SampleLessons) != 3 {
		t.Fatalf("samples = %d, want 3", len(ev.SampleLessons))
	}
	if s := ev.SampleLessons[0].Excerpt; s != long[:100]+"..." {
		t.Errorf("excerpt = %q", s)
	}
	if ev.CumulativeTotals.RawLessons != 5 || ev.CumulativeTotals.NetLessons != 4 || ev.CumulativeTotals.PDFsProcessed != 1 {
		t.Errorf("cumulative = %+v", ev.CumulativeTotals)
	}

	ev2 := runEvent(t, l, "b.pdf", candidates("closing", freshLessons[9]))
	if len(ev2.NewCategories) != 0 {
		t.Errorf("new categories on second event = %v", ev2.NewCategories)
	}
}

func TestLedger_PersistsAndReloads(t *testing.T) {
	clock := newClock()
	dir := t.TempDir()
	l := openLedger(t, dir, clock)

	runEvent(t, l, "a.pdf", candidates("rapport", freshLessons[:3]...))
	clock.Advance(time.Hour)
	runEvent(t, l, "b.pdf", candidates("closing", freshLessons[3], freshLessons[0]))
	want := l.Totals()

	reopened := openLedger(t, dir, clock)
	got := reopened.Totals()
	if got.TotalRaw != want.TotalRaw || got.TotalNet != want.TotalNet || got.DedupRate != want.DedupRate {
		t.Errorf("reloaded totals = %+v, want %+v", got, want)
	}
	if reopened.CorpusSize() != 4 || reopened.EventCount() != 2 {
		t.Errorf("reloaded corpus=%d events=%d", reopened.CorpusSize(), reopened.EventCount())
	}

	ev := runEvent(t, reopened, "c.pdf", candidates("rapport", freshLessons[1]))
	if ev.LessonsRejectedAsDuplicate != 1 {
		t.Error("reloaded corpus did not dedup a known lesson")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") || strings.HasSuffix(e.Name(), ".prev") {
			t.Errorf("leftover file %s", e.Name())
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, AuditFileName))
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("audit file is not JSON: %v", err)
	}
	for _, key := range []string{"metadata", "global_totals", "processing_events", "plateau_analysis", "recommendations"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("audit file missing %q", key)
		}
	}
}

func TestLedger_CorpusExtraSections(t *testing.T) {
	dir := t.TempDir()
	existing := `{"objection_handling": {"techniques": ["Use silence after stating the price to let it land"]}, "version": "legacy"}`
	if err := os.WriteFile(filepath.Join(dir, CorpusFileName), []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	l := openLedger(t, dir, newClock())
	ev := runEvent(t, l, "a.pdf", candidates("closing", freshLessons[1], freshLessons[2]))
	if ev.LessonsAccepted != 1 || ev.LessonsRejectedAsDuplicate != 1 {
		t.Errorf("accepted=%d rejected=%d, want 1/1", ev.LessonsAccepted, ev.LessonsRejectedAsDuplicate)
	}

	data, err := os.ReadFile(filepath.Join(dir, CorpusFileName))
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"objection_handling", "version", "lessons"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("corpus missing %q after commit", key)
		}
	}
}

func TestOpen_QuarantinesCorruptFile(t *testing.T) {
	clock := newClock()
	dir := t.TempDir()
	audit := filepath.Join(dir, AuditFileName)
	if err := os.WriteFile(audit, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := openLedger(t, dir, clock)
	if l.EventCount() != 0 {
		t.Errorf("events = %d, want 0", l.EventCount())
	}
	moved, err := os.ReadFile(audit + ".corrupt-" + "1740830400")
	if err != nil {
		t.Fatalf("quarantined file: %v", err)
	}
	if string(moved) != "{not json" {
		t.Errorf("quarantined content = %q", moved)
	}
	if _, err := os.Stat(audit); err != nil {
		t.Errorf("fresh audit file not written: %v", err)
	}
}

func TestLedger_CommitFailureLeavesStateUntouched(t *testing.T) {
	clock := newClock()
	dir := t.TempDir()
	l := openLedger(t, dir, clock)
	runEvent(t, l, "a.pdf", candidates("rapport", freshLessons[0]))
	before := l.Totals()

	blocker := filepath.Join(dir, CorpusFileName+".tmp")
	if err := os.Mkdir(blocker, 0o755); err != nil {
		t.Fatal(err)
	}

	tx, err := l.Start("b.pdf")
	if err != nil {
		t.Fatal(err)
	}
	_, err = l.Complete(tx, candidates("closing", freshLessons[1]), time.Second)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	if got := l.Totals(); got.TotalRaw != before.TotalRaw || got.PDFsProcessed != before.PDFsProcessed {
		t.Errorf("totals advanced after failed commit: %+v", got)
	}
	if l.CorpusSize() != 1 || l.EventCount() != 1 {
		t.Errorf("corpus=%d events=%d after failed commit", l.CorpusSize(), l.EventCount())
	}

	if err := os.Remove(blocker); err != nil {
		t.Fatal(err)
	}
	ev := runEvent(t, l, "b.pdf", candidates("closing", freshLessons[1]))
	if ev.LessonsAccepted != 1 {
		t.Error("lesson from the failed commit stayed in the dedup index")
	}
}

func TestLedger_CommitRollsBackFirstFile(t *testing.T) {
	clock := newClock()
	dir := t.TempDir()
	l := openLedger(t, dir, clock)
	runEvent(t, l, "a.pdf", candidates("rapport", freshLessons[0]))

	corpusPath := filepath.Join(dir, CorpusFileName)
	auditPath := filepath.Join(dir, AuditFileName)
	corpusBefore, err := os.ReadFile(corpusPath)
	if err != nil {
		t.Fatal(err)
	}

	// Fail the audit swap after the corpus was already replaced.
	renameFile = func(from, to string) error {
		if to == auditPath && strings.HasSuffix(from, ".tmp") {
			return errors.New("disk full")
		}
		return os.Rename(from, to)
	}
	t.Cleanup(func() { renameFile = os.Rename })

	tx, err := l.Start("b.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Complete(tx, candidates("closing", freshLessons[1]), time.Second); !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}

	corpusAfter, err := os.ReadFile(corpusPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(corpusAfter) != string(corpusBefore) {
		t.Error("corpus file not rolled back")
	}
	for _, leftover := range []string{
		auditPath + ".tmp",
		auditPath + ".prev",
		corpusPath + ".prev",
		filepath.Join(dir, journalFileName),
	} {
		if _, err := os.Stat(leftover); !os.IsNotExist(err) {
			t.Errorf("%s left behind", filepath.Base(leftover))
		}
	}

	renameFile = os.Rename
	reopened := openLedger(t, dir, clock)
	if reopened.CorpusSize() != 1 || reopened.EventCount() != 1 {
		t.Errorf("on disk corpus=%d events=%d, want 1/1", reopened.CorpusSize(), reopened.EventCount())
	}
}

func TestLedger_BackupFailureLeavesFilesUntouched(t *testing.T) {
	clock := newClock()
	dir := t.TempDir()
	l := openLedger(t, dir, clock)
	runEvent(t, l, "a.pdf", candidates("rapport", freshLessons[0]))

	// A non-empty directory where the audit backup goes cannot be replaced.
	prev := filepath.Join(dir, AuditFileName+".prev")
	if err := os.MkdirAll(filepath.Join(prev, "x"), 0o755); err != nil {
		t.Fatal(err)
	}

	tx, err := l.Start("b.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Complete(tx, candidates("closing", freshLessons[1]), time.Second); !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	if _, err := os.Stat(filepath.Join(dir, CorpusFileName+".prev")); !os.IsNotExist(err) {
		t.Error("corpus backup left behind")
	}

	if err := os.RemoveAll(prev); err != nil {
		t.Fatal(err)
	}
	reopened := openLedger(t, dir, clock)
	if reopened.CorpusSize() != 1 || reopened.EventCount() != 1 {
		t.Errorf("on disk corpus=%d events=%d, want 1/1", reopened.CorpusSize(), reopened.EventCount())
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestOpen_RollsBackInterruptedCommit(t *testing.T) {
	clock := newClock()
	dir := t.TempDir()
	corpusPath := filepath.Join(dir, CorpusFileName)
	auditPath := filepath.Join(dir, AuditFileName)

	l := openLedger(t, dir, clock)
	runEvent(t, l, "a.pdf", candidates("rapport", freshLessons[0]))
	corpusV1, auditV1 := readFile(t, corpusPath), readFile(t, auditPath)
	runEvent(t, l, "b.pdf", candidates("closing", freshLessons[1]))

	// Crash after the corpus swap, before the audit swap.
	writeFile(t, corpusPath+".prev", corpusV1)
	writeFile(t, auditPath+".prev", auditV1)
	writeFile(t, auditPath, auditV1)
	err := writeJournal(filepath.Join(dir, journalFileName), journal{Files: []journalEntry{
		{Name: CorpusFileName, HadPrev: true},
		{Name: AuditFileName, HadPrev: true},
	}})
	if err != nil {
		t.Fatal(err)
	}

	reopened := openLedger(t, dir, clock)
	if reopened.CorpusSize() != 1 || reopened.EventCount() != 1 {
		t.Fatalf("corpus=%d events=%d, want 1/1", reopened.CorpusSize(), reopened.EventCount())
	}
	if got := reopened.Totals().TotalNet; got != reopened.CorpusSize() {
		t.Errorf("total net %d != corpus size %d", got, reopened.CorpusSize())
	}
	if lessons := reopened.Lessons(); lessons[0].Content != freshLessons[0] {
		t.Errorf("surviving lesson = %q", lessons[0].Content)
	}
	for _, leftover := range []string{corpusPath + ".prev", auditPath + ".prev", filepath.Join(dir, journalFileName)} {
		if _, err := os.Stat(leftover); !os.IsNotExist(err) {
			t.Errorf("%s left behind", filepath.Base(leftover))
		}
	}

	ev := runEvent(t, reopened, "c.pdf", candidates("rapport", freshLessons[0]))
	if ev.LessonsAccepted != 0 || ev.LessonsRejectedAsDuplicate != 1 {
		t.Errorf("known lesson accepted=%d duplicates=%d, want 0/1", ev.LessonsAccepted, ev.LessonsRejectedAsDuplicate)
	}
}

func TestOpen_RemovesFileCreatedByInterruptedCommit(t *testing.T) {
	clock := newClock()
	dir := t.TempDir()
	corpusPath := filepath.Join(dir, CorpusFileName)
	auditPath := filepath.Join(dir, AuditFileName)

	openLedger(t, dir, clock)
	auditV0 := readFile(t, auditPath)
	writeFile(t, auditPath+".prev", auditV0)
	writeFile(t, corpusPath, []byte(`{"lessons": [{"content": "half-written"}]}`))
	err := writeJournal(filepath.Join(dir, journalFileName), journal{Files: []journalEntry{
		{Name: CorpusFileName, HadPrev: false},
		{Name: AuditFileName, HadPrev: true},
	}})
	if err != nil {
		t.Fatal(err)
	}

	reopened := openLedger(t, dir, clock)
	if reopened.CorpusSize() != 0 || reopened.EventCount() != 0 {
		t.Errorf("corpus=%d events=%d, want 0/0", reopened.CorpusSize(), reopened.EventCount())
	}
	if _, err := os.Stat(corpusPath); !os.IsNotExist(err) {
		t.Error("corpus created by the interrupted commit was kept")
	}
}

func TestOpen_RestoresOrphanedBackup(t *testing.T) {
	clock := newClock()
	dir := t.TempDir()
	corpusPath := filepath.Join(dir, CorpusFileName)

	l := openLedger(t, dir, clock)
	runEvent(t, l, "a.pdf", candidates("rapport", freshLessons[0]))
	if err := os.Rename(corpusPath, corpusPath+".prev"); err != nil {
		t.Fatal(err)
	}

	reopened := openLedger(t, dir, clock)
	if reopened.CorpusSize() != 1 || reopened.Totals().TotalNet != 1 {
		t.Fatalf("corpus=%d net=%d, want 1/1", reopened.CorpusSize(), reopened.Totals().TotalNet)
	}
	ev := runEvent(t, reopened, "b.pdf", candidates("rapport", freshLessons[0]))
	if ev.LessonsAccepted != 0 {
		t.Errorf("identical lesson accepted %d times after reopen", ev.LessonsAccepted)
	}
	if reopened.CorpusSize() != reopened.Totals().TotalNet {
		t.Errorf("corpus %d != total net %d", reopened.CorpusSize(), reopened.Totals().TotalNet)
	}
}

func TestOpen_DropsStaleBackup(t *testing.T) {
	clock := newClock()
	dir := t.TempDir()
	corpusPath := filepath.Join(dir, CorpusFileName)

	l := openLedger(t, dir, clock)
	runEvent(t, l, "a.pdf", candidates("rapport", freshLessons[0]))
	writeFile(t, corpusPath+".prev", []byte(`{"lessons": []}`))

	reopened := openLedger(t, dir, clock)
	if reopened.CorpusSize() != 1 {
		t.Errorf("corpus = %d, want 1", reopened.CorpusSize())
	}
	if _, err := os.Stat(corpusPath + ".prev"); !os.IsNotExist(err) {
		t.Error("stale backup left behind")
	}
}

func TestLedger_Queries(t *testing.T) {
	clock := newClock()
	l := openLedger(t, t.TempDir(), clock)

	for i := 0; i < 12; i++ {
		clock.Advance(time.Hour)
		runEvent(t, l, "call.pdf", candidates([]string{"rapport", "closing"}[i%2], freshLessons[i]))
	}
	runEvent(t, l, "dup.pdf", candidates("closing", freshLessons[0], freshLessons[1]))

	tail := l.AuditTrailTail(0)
	if len(tail) != DefaultTailSize {
		t.Fatalf("tail = %d events, want %d", len(tail), DefaultTailSize)
	}
	if tail[len(tail)-1].SourceFile != "dup.pdf" || tail[len(tail)-1].Duplicates != 2 {
		t.Errorf("last tail event = %+v", tail[len(tail)-1])
	}
	if got := l.AuditTrailTail(100); len(got) != 13 {
		t.Errorf("tail(100) = %d, want 13", len(got))
	}
	if got := l.AuditTrailTail(2); len(got) != 2 || got[0].NewLessons != 1 {
		t.Errorf("tail(2) = %+v", got)
	}

	cats := l.CategoryBreakdown()
	if len(cats) != 2 || cats[0].Name != "closing" || cats[1].Name != "rapport" {
		t.Fatalf("categories = %+v", cats)
	}
	if cats[0].TotalLessons != 6 || cats[1].TotalLessons != 6 {
		t.Errorf("category totals = %+v", cats)
	}

	s := l.MetricsSummary()
	if s.TotalPDFsProcessed != 13 || s.TotalLessons != 12 || s.UniqueCategories != 2 {
		t.Errorf("summary = %+v", s)
	}
	if s.DedupRate != 0.143 {
		t.Errorf("dedup rate = %v, want 0.143", s.DedupRate)
	}
	if s.EstimatedCompletion != 14.3 {
		t.Errorf("estimated completion = %v, want 14.3", s.EstimatedCompletion)
	}
	if s.RecentLessonsAdded != 12 {
		t.Errorf("recent lessons = %d, want 12", s.RecentLessonsAdded)
	}

	clock.Advance(8 * 24 * time.Hour)
	if got := l.MetricsSummary().RecentLessonsAdded; got != 0 {
		t.Errorf("recent lessons after window = %d, want 0", got)
	}
}

func TestLedger_Abandon(t *testing.T) {
	l := openLedger(t, t.TempDir(), newClock())

	tx, err := l.Start("a.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Abandon(tx); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if err := l.Abandon(tx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Abandon err = %v, want ErrInvalidState", err)
	}
	if _, err := l.Complete(tx, nil, time.Second); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Complete after Abandon err = %v, want ErrInvalidState", err)
	}
	if l.EventCount() != 0 {
		t.Errorf("events = %d, want 0", l.EventCount())
	}
	if _, err := l.Start("b.pdf"); err != nil {
		t.Errorf("Start after Abandon: %v", err)
	}
}
