package hermes

import (
	"time"

	"github.com/MikeSquared-Agency/mentor/internal/ledger"
)

const (
	// SubjectEventCompleted carries one EventCompleted per recorded transcript.
	SubjectEventCompleted = "lessons.event.completed"
	// SubjectPlateauDetected is published once, when the ledger first plateaus.
	SubjectPlateauDetected = "lessons.plateau.detected"
	// SubjectTranscriptSubmitted asks the server to queue a transcript that
	// is already on disk.
	SubjectTranscriptSubmitted = "lessons.transcript.submitted"
)

// TranscriptSubmitted is the payload of SubjectTranscriptSubmitted. Path must
// be readable by the server; Filename defaults to the base name of Path.
type TranscriptSubmitted struct {
	Path     string `json:"path"`
	Filename string `json:"filename,omitempty"`
}

// EventCompleted summarises a processing event for downstream consumers.
type EventCompleted struct {
	EventID                string    `json:"event_id"`
	SourceFile             string    `json:"source_file"`
	Timestamp              time.Time `json:"timestamp"`
	CandidatesExtracted    int       `json:"candidates_extracted"`
	LessonsAccepted        int       `json:"lessons_accepted"`
	Duplicates             int       `json:"duplicates"`
	UniquenessContribution float64   `json:"uniqueness_contribution"`
	NewCategories          []string  `json:"new_categories"`
	TotalLessons           int       `json:"total_lessons"`
	DedupRate              float64   `json:"dedup_rate"`
}

// PlateauDetected announces the first detection of a learning plateau.
type PlateauDetected struct {
	DetectedAt         *time.Time `json:"detected_at"`
	DedupRate          float64    `json:"dedup_rate"`
	RecentLessonsAdded int        `json:"recent_lessons_added"`
	UniquenessRate     float64    `json:"uniqueness_rate"`
	Recommendations    []string   `json:"recommendations"`
}

func NewEventCompleted(ev *ledger.ProcessingEvent) EventCompleted {
	return EventCompleted{
		EventID:                ev.EventID,
		SourceFile:             ev.SourceFile,
		Timestamp:              ev.Timestamp,
		CandidatesExtracted:    ev.CandidatesExtracted,
		LessonsAccepted:        ev.LessonsAccepted,
		Duplicates:             ev.LessonsRejectedAsDuplicate,
		UniquenessContribution: ev.UniquenessContribution,
		NewCategories:          ev.NewCategories,
		TotalLessons:           ev.CumulativeTotals.NetLessons,
		DedupRate:              ev.CumulativeTotals.DedupRate,
	}
}

func NewPlateauDetected(r ledger.PlateauReport) PlateauDetected {
	return PlateauDetected{
		DetectedAt:         r.DetectedAt,
		DedupRate:          r.DedupRate,
		RecentLessonsAdded: r.RecentLessonsAdded,
		UniquenessRate:     r.UniquenessRate,
		Recommendations:    r.Recommendations,
	}
}

// PublishEventCompleted publishes ev on SubjectEventCompleted, keyed by its
// event id.
func (c *Client) PublishEventCompleted(ev *ledger.ProcessingEvent) error {
	return c.publish(SubjectEventCompleted, ev.EventID, NewEventCompleted(ev))
}

// PublishPlateauDetected publishes r on SubjectPlateauDetected.
func (c *Client) PublishPlateauDetected(r ledger.PlateauReport) error {
	return c.Publish(SubjectPlateauDetected, NewPlateauDetected(r))
}
