// Package archive keeps the files produced by each analysis run: one JSON
// document per agent, the combined analysis and the coaching guide.
package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/mentor/internal/coaching"
	"github.com/MikeSquared-Agency/mentor/internal/ledger"
)

var (
	ErrNotFound    = errors.New("analysis not found")
	ErrUnknownFile = errors.New("unknown file type")
)

// File types served for every analysis. Per-agent files are "agent_<name>".
const (
	FileComprehensive = "comprehensive_analysis"
	FileCoachingGuide = "enhanced_prompt"
	AgentFilePrefix   = "agent_"

	manifestName = "manifest.json"
)

// Analysis is one finished run, as handed over by the pipeline.
type Analysis struct {
	ID           string
	SourceFile   string
	CreatedAt    time.Time
	Agents       []string
	Results      map[string]ledger.Value
	FailedAgents []string
	Candidates   int
	Event        *ledger.ProcessingEvent
}

// Manifest lists the files kept for one analysis, keyed by file type.
type Manifest struct {
	AnalysisID string            `json:"analysis_id"`
	SourceFile string            `json:"source_file"`
	CreatedAt  time.Time         `json:"created_at"`
	Files      map[string]string `json:"files"`
}

type comprehensive struct {
	AnalysisID         string                  `json:"analysis_id"`
	AnalysisDate       time.Time               `json:"analysis_date"`
	SourceFile         string                  `json:"source_file"`
	AgentsRun          []string                `json:"agents_run"`
	FailedAgents       []string                `json:"failed_agents"`
	IndividualAnalyses map[string]ledger.Value `json:"individual_analyses"`
	Summary            summary                 `json:"comprehensive_summary"`
}

type summary struct {
	TotalAgents        int    `json:"total_agents"`
	CompletedAgents    int    `json:"completed_agents"`
	Candidates         int    `json:"lesson_candidates"`
	LessonsRecorded    bool   `json:"lessons_recorded"`
	EventID            string `json:"event_id,omitempty"`
	LessonsAccepted    int    `json:"lessons_accepted"`
	DuplicatesRejected int    `json:"duplicates_rejected"`
}

// Store writes each analysis to <dir>/<analysis id>/.
type Store struct {
	dir    string
	topics []coaching.Topic
	logger *slog.Logger
}

// NewStore creates a store under dir. topics order the coaching guide.
func NewStore(dir string, topics []coaching.Topic, logger *slog.Logger) *Store {
	return &Store{dir: dir, topics: topics, logger: logger}
}

// Save writes the per-agent documents, the combined analysis and the
// coaching guide, then the manifest. An analysis without a manifest is
// treated as absent.
func (s *Store) Save(a Analysis) (*Manifest, error) {
	if !validID(a.ID) {
		return nil, fmt.Errorf("invalid analysis id %q", a.ID)
	}
	dir := filepath.Join(s.dir, a.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create analysis dir: %w", err)
	}

	base := baseName(a.SourceFile)
	m := &Manifest{
		AnalysisID: a.ID,
		SourceFile: a.SourceFile,
		CreatedAt:  a.CreatedAt.UTC(),
		Files:      make(map[string]string),
	}

	agents := agentOrder(a.Agents, a.Results)
	for _, name := range agents {
		file := fmt.Sprintf("%s_%s.json", base, name)
		if err := writeJSON(filepath.Join(dir, file), a.Results[name]); err != nil {
			return nil, fmt.Errorf("write %s: %w", file, err)
		}
		m.Files[AgentFilePrefix+name] = file
	}

	doc := comprehensive{
		AnalysisID:         a.ID,
		AnalysisDate:       m.CreatedAt,
		SourceFile:         a.SourceFile,
		AgentsRun:          agents,
		FailedAgents:       a.FailedAgents,
		IndividualAnalyses: a.Results,
		Summary: summary{
			TotalAgents:     len(agents),
			CompletedAgents: len(agents) - len(a.FailedAgents),
			Candidates:      a.Candidates,
		},
	}
	if doc.FailedAgents == nil {
		doc.FailedAgents = []string{}
	}
	if a.Event != nil {
		doc.Summary.LessonsRecorded = true
		doc.Summary.EventID = a.Event.EventID
		doc.Summary.LessonsAccepted = a.Event.LessonsAccepted
		doc.Summary.DuplicatesRejected = a.Event.LessonsRejectedAsDuplicate
	}
	file := base + "_comprehensive_analysis.json"
	if err := writeJSON(filepath.Join(dir, file), doc); err != nil {
		return nil, fmt.Errorf("write %s: %w", file, err)
	}
	m.Files[FileComprehensive] = file

	var guide bytes.Buffer
	if err := coaching.Render(&guide, coaching.FromAnalysis(a.SourceFile, s.topics, a.Results)); err != nil {
		return nil, fmt.Errorf("render coaching guide: %w", err)
	}
	file = base + "_enhanced_prompt.txt"
	if err := os.WriteFile(filepath.Join(dir, file), guide.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", file, err)
	}
	m.Files[FileCoachingGuide] = file

	if err := writeJSON(filepath.Join(dir, manifestName), m); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	s.logger.Info("analysis files saved", "analysis_id", a.ID, "dir", dir, "files", len(m.Files))
	return m, nil
}

// Load returns the manifest of a saved analysis.
func (s *Store) Load(id string) (*Manifest, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.dir, id, manifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Path returns the location of one file of a saved analysis.
func (s *Store) Path(id, fileType string) (string, error) {
	m, err := s.Load(id)
	if err != nil {
		return "", err
	}
	name, ok := m.Files[fileType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownFile, fileType)
	}
	return filepath.Join(s.dir, id, name), nil
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// baseName is the source file name without directory or extension.
func baseName(sourceFile string) string {
	name := filepath.Base(sourceFile)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "analysis"
	}
	return name
}

// agentOrder is the run order followed by any other agents in name order.
func agentOrder(order []string, results map[string]ledger.Value) []string {
	out := make([]string, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, name := range order {
		if _, ok := results[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	var rest []string
	for name := range results {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
