package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	// AuditFileName is the audit/ledger document inside the results directory.
	AuditFileName = "lessons_audit_trail.json"
	// CorpusFileName is the accepted-lesson corpus inside the results directory.
	CorpusFileName = "synthesized_learnings.json"

	journalFileName  = "lessons_commit.journal"
	schemaVersion    = "1.0.0"
	corpusLessonsKey = "lessons"
)

// Corpus is the accepted-lesson document. Top-level sections other than
// "lessons" belong to other tools; they are preserved on write and their
// string leaves count as known lessons for deduplication.
type Corpus struct {
	Lessons []LessonRecord
	extra   map[string]json.RawMessage
}

func (c *Corpus) MarshalJSON() ([]byte, error) {
	doc := make(map[string]json.RawMessage, len(c.extra)+1)
	for k, v := range c.extra {
		doc[k] = v
	}
	lessons := c.Lessons
	if lessons == nil {
		lessons = []LessonRecord{}
	}
	raw, err := json.Marshal(lessons)
	if err != nil {
		return nil, err
	}
	doc[corpusLessonsKey] = raw
	return json.Marshal(doc)
}

func (c *Corpus) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	c.Lessons = nil
	if raw, ok := doc[corpusLessonsKey]; ok {
		if err := json.Unmarshal(raw, &c.Lessons); err != nil {
			return fmt.Errorf("decode lessons: %w", err)
		}
		delete(doc, corpusLessonsKey)
	}
	c.extra = doc
	return nil
}

// knownTexts is the deduplication universe of the corpus.
func (c *Corpus) knownTexts() []string {
	texts := make([]string, 0, len(c.Lessons))
	for _, l := range c.Lessons {
		texts = append(texts, l.Content)
	}

	keys := make([]string, 0, len(c.extra))
	for k := range c.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := ParseValue(c.extra[k])
		if err != nil {
			continue
		}
		texts = append(texts, v.StringLeaves()...)
	}
	return texts
}

func (c *Corpus) withLessons(records []LessonRecord) *Corpus {
	next := &Corpus{extra: c.extra}
	next.Lessons = make([]LessonRecord, 0, len(c.Lessons)+len(records))
	next.Lessons = append(next.Lessons, c.Lessons...)
	next.Lessons = append(next.Lessons, records...)
	return next
}

func newAuditTrail(cfg Config, now time.Time) *AuditTrail {
	return &AuditTrail{
		Metadata: Metadata{
			Version:     schemaVersion,
			CreatedAt:   now,
			LastUpdated: now,
		},
		GlobalTotals: GlobalTotals{Categories: []string{}},
		Events:       []ProcessingEvent{},
		PlateauAnalysis: PlateauAnalysis{
			WindowDays:          cfg.windowDays(),
			TrendDirection:      TrendIncreasing,
			TrendCoefficient:    1.0,
			DiscoveryRate:       1.0,
			SimilarityThreshold: cfg.SimilarityThreshold,
			Categories:          map[string]CategoryStats{},
		},
		Recommendations: recommend(cfg, GlobalTotals{}),
	}
}

// readJSON decodes path into v. A missing file reports found=false.
func readJSON(path string, v any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, err
	}
	return true, nil
}

// quarantine moves an unreadable document aside so a fresh one can replace it
// without destroying the original bytes.
func quarantine(path string, now time.Time) (string, error) {
	dst := fmt.Sprintf("%s.corrupt-%d", path, now.Unix())
	if err := os.Rename(path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

type pendingFile struct {
	path string
	data []byte
}

// journal lists the files an in-flight commit is replacing. It exists on
// disk only while targets are being swapped; finding one at open time means
// the commit never finished and its swaps must be undone.
type journal struct {
	Files []journalEntry `json:"files"`
}

type journalEntry struct {
	Name    string `json:"name"`
	HadPrev bool   `json:"had_prev"`
}

// renameFile is os.Rename; tests replace it to fail a chosen swap.
var renameFile = os.Rename

// commitFiles replaces every file or none. Each document is written to a
// synced temp file, each existing target gets a <path>.prev backup (a hard
// link, so the target never disappears), and a journal naming the targets
// is written before the first swap. Each swap is a single rename over the
// target. Removing the journal is the commit point; a failure before it
// restores the backups.
func commitFiles(journalPath string, files []pendingFile) error {
	tmps := make([]string, len(files))
	entries := make([]journalEntry, len(files))
	cleanup := func() {
		for i, t := range tmps {
			if t != "" {
				os.Remove(t)
			}
			if entries[i].HadPrev {
				os.Remove(files[i].path + ".prev")
			}
		}
	}

	for i, f := range files {
		tmp, err := writeTemp(f.path, f.data)
		if err != nil {
			cleanup()
			return fmt.Errorf("write %s: %w", filepath.Base(f.path), err)
		}
		tmps[i] = tmp
	}

	for i, f := range files {
		entries[i].Name = filepath.Base(f.path)
		hadPrev, err := backup(f.path)
		if err != nil {
			cleanup()
			return fmt.Errorf("back up %s: %w", filepath.Base(f.path), err)
		}
		entries[i].HadPrev = hadPrev
	}

	if err := writeJournal(journalPath, journal{Files: entries}); err != nil {
		cleanup()
		return fmt.Errorf("write commit journal: %w", err)
	}

	swapped := 0
	rollback := func() {
		for i := swapped - 1; i >= 0; i-- {
			restore(files[i].path, entries[i].HadPrev)
		}
		os.Remove(journalPath)
		cleanup()
	}

	for i, f := range files {
		if err := renameFile(tmps[i], f.path); err != nil {
			rollback()
			return fmt.Errorf("replace %s: %w", filepath.Base(f.path), err)
		}
		tmps[i] = ""
		swapped++
	}

	if err := os.Remove(journalPath); err != nil {
		rollback()
		return fmt.Errorf("remove commit journal: %w", err)
	}
	cleanup()
	return nil
}

// backup links path to path.prev. A missing path needs no backup.
func backup(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	prev := path + ".prev"
	if err := os.Remove(prev); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := os.Link(path, prev); err == nil {
		return true, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	tmp, err := writeTemp(prev, data)
	if err != nil {
		return false, err
	}
	if err := os.Rename(tmp, prev); err != nil {
		os.Remove(tmp)
		return false, err
	}
	return true, nil
}

// restore puts back the version of path that existed before a commit.
func restore(path string, hadPrev bool) error {
	if !hadPrev {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	prev := path + ".prev"
	if _, err := os.Stat(prev); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := renameFile(prev, path); err != nil {
		return err
	}
	// Renaming a link onto its own target is a no-op that leaves prev behind.
	if err := os.Remove(prev); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func writeJournal(path string, j journal) error {
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	tmp, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// recoverCommit brings dir back to a consistent state after a commit was
// interrupted. With a journal present the swaps it lists are undone.
// Backups without a journal belong to a commit that had already finished,
// except when their target is missing, in which case the backup is the
// only copy and is moved back. It reports whether a commit was rolled back.
func recoverCommit(journalPath string, paths []string) (bool, error) {
	var j journal
	found, err := readJSON(journalPath, &j)
	if err != nil {
		return false, fmt.Errorf("read commit journal: %w", err)
	}
	dir := filepath.Dir(journalPath)
	if found {
		for _, e := range j.Files {
			if err := restore(filepath.Join(dir, e.Name), e.HadPrev); err != nil {
				return false, fmt.Errorf("restore %s: %w", e.Name, err)
			}
		}
		if err := os.Remove(journalPath); err != nil {
			return false, fmt.Errorf("remove commit journal: %w", err)
		}
	}

	for _, p := range paths {
		os.Remove(p + ".tmp")
		prev := p + ".prev"
		if _, err := os.Stat(prev); err != nil {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			if err := os.Rename(prev, p); err != nil {
				return found, fmt.Errorf("restore %s: %w", filepath.Base(p), err)
			}
			continue
		}
		os.Remove(prev)
	}
	return found, nil
}

func writeTemp(path string, data []byte) (string, error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}
