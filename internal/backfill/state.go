package backfill

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// StateFileName is the resumable ingest state kept beside the ledger files.
const StateFileName = "backfill-state.json"

// FileRecord ties one ingested transcript to the ledger event that recorded
// its lessons.
type FileRecord struct {
	Path        string    `json:"path"`
	Digest      string    `json:"sha256"`
	EventID     string    `json:"event_id"`
	ProcessedAt time.Time `json:"processed_at"`
	Candidates  int       `json:"candidates"`
	Accepted    int       `json:"lessons_accepted"`
	Duplicates  int       `json:"duplicates_rejected"`
}

// State tracks which transcripts are already in the ledger. Files are
// identified by content digest, so a renamed or copied transcript is not
// ingested twice.
type State struct {
	StartedAt      time.Time         `json:"started_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Files          []FileRecord      `json:"files"`
	FilesRemaining int               `json:"files_remaining"`
	Failures       map[string]string `json:"failures,omitempty"`
	PlateauAt      *time.Time        `json:"plateau_reached_at,omitempty"`
	PlateauEventID string            `json:"plateau_event_id,omitempty"`

	path   string
	digest map[string]int
}

// LoadState loads the state at path, or starts a new one if none exists.
func LoadState(path string) (*State, error) {
	s := &State{path: path}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		s.StartedAt = time.Now().UTC()
	case err != nil:
		return nil, fmt.Errorf("read state: %w", err)
	default:
		if err := json.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parse state: %w", err)
		}
	}

	s.digest = make(map[string]int, len(s.Files))
	for i, f := range s.Files {
		s.digest[f.Digest] = i
	}
	return s, nil
}

// Save writes the state through a temp file so a crash never leaves a
// truncated state behind.
func (s *State) Save() error {
	s.UpdatedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// Seen returns the record of an earlier file with the same content.
func (s *State) Seen(digest string) (FileRecord, bool) {
	i, ok := s.digest[digest]
	if !ok {
		return FileRecord{}, false
	}
	return s.Files[i], true
}

// Record marks a file as ingested and clears any earlier failure for it.
func (s *State) Record(rec FileRecord) {
	if s.digest == nil {
		s.digest = make(map[string]int)
	}
	s.digest[rec.Digest] = len(s.Files)
	s.Files = append(s.Files, rec)
	delete(s.Failures, rec.Path)
}

// Fail records why path could not be ingested. It is retried on the next run.
func (s *State) Fail(path, msg string) {
	if s.Failures == nil {
		s.Failures = make(map[string]string)
	}
	s.Failures[path] = msg
}

// MarkPlateau records the event that first reported a plateau during ingest.
func (s *State) MarkPlateau(eventID string, at time.Time) {
	if s.PlateauAt != nil {
		return
	}
	at = at.UTC()
	s.PlateauAt = &at
	s.PlateauEventID = eventID
}

// Totals sums the ledger outcome over every ingested file.
func (s *State) Totals() (candidates, accepted, duplicates int) {
	for _, f := range s.Files {
		candidates += f.Candidates
		accepted += f.Accepted
		duplicates += f.Duplicates
	}
	return candidates, accepted, duplicates
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
