package ledger

import "time"

// Candidate is a lesson before deduplication.
type Candidate struct {
	Type          string  `json:"type"`
	Content       string  `json:"content"`
	SourceAgent   string  `json:"source_agent"`
	ExtractionKey string  `json:"extraction_key"`
	QualityScore  float64 `json:"quality_score"`
}

// LessonRecord is an accepted lesson as persisted in the corpus file.
// Records are never rewritten once committed.
type LessonRecord struct {
	Content      string    `json:"content"`
	Type         string    `json:"type"`
	QualityScore float64   `json:"quality_score"`
	SourceAgent  string    `json:"source_agent"`
	AddedAt      time.Time `json:"added_at"`
}

// CumulativeTotals snapshots the global counters right after an event.
type CumulativeTotals struct {
	PDFsProcessed int     `json:"pdfs_processed"`
	RawLessons    int     `json:"raw_lessons"`
	NetLessons    int     `json:"net_lessons"`
	DedupRate     float64 `json:"dedup_rate"`
}

// LessonSample is a short excerpt of an accepted lesson kept on the event.
type LessonSample struct {
	Type         string  `json:"type"`
	Excerpt      string  `json:"excerpt"`
	QualityScore float64 `json:"quality_score"`
	IsNewPattern bool    `json:"is_new_pattern"`
}

// ProcessingEvent is the audit record for one processed transcript.
type ProcessingEvent struct {
	EventID                    string           `json:"event_id"`
	Timestamp                  time.Time        `json:"timestamp"`
	SourceFile                 string           `json:"source_file"`
	SourcePath                 string           `json:"source_path"`
	DurationSeconds            float64          `json:"duration_seconds"`
	CandidatesExtracted        int              `json:"candidates_extracted"`
	LessonsAccepted            int              `json:"lessons_accepted"`
	LessonsRejectedAsDuplicate int              `json:"lessons_rejected_duplicate"`
	CategoriesFound            []string         `json:"categories_found"`
	NewCategories              []string         `json:"new_categories"`
	QualityScoreMean           float64          `json:"quality_score_mean"`
	CumulativeTotals           CumulativeTotals `json:"cumulative_totals"`
	UniquenessContribution     float64          `json:"uniqueness_contribution"`
	SampleLessons              []LessonSample   `json:"sample_lessons"`
}

// PlateauStatus is sticky: once IsPlateaued is set it is never cleared.
type PlateauStatus struct {
	IsPlateaued bool       `json:"is_plateaued"`
	DetectedAt  *time.Time `json:"detected_at"`
}

// GlobalTotals holds the running counters across all events.
// TotalNet + TotalDuplicates == TotalRaw.
type GlobalTotals struct {
	PDFsProcessed   int           `json:"pdfs_processed"`
	TotalRaw        int           `json:"total_raw"`
	TotalNet        int           `json:"total_net"`
	TotalDuplicates int           `json:"total_duplicates"`
	DedupRate       float64       `json:"dedup_rate"`
	Categories      []string      `json:"categories"`
	Plateau         PlateauStatus `json:"plateau_status"`
}

// Trend is the direction of uniqueness contribution between the last two events.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// PlateauIndicators are the three heuristic signals; two or more trip the plateau.
type PlateauIndicators struct {
	Evaluated       bool `json:"evaluated"`
	LowAdditionRate bool `json:"low_addition_rate"`
	HighDedupRate   bool `json:"high_dedup_rate"`
	LowUniqueness   bool `json:"low_uniqueness"`
}

// Count returns how many indicators are set.
func (pi PlateauIndicators) Count() int {
	n := 0
	for _, b := range []bool{pi.LowAdditionRate, pi.HighDedupRate, pi.LowUniqueness} {
		if b {
			n++
		}
	}
	return n
}

// CategoryStats counts accepted lessons of one category.
type CategoryStats struct {
	TotalLessons    int `json:"total_lessons"`
	RecentAdditions int `json:"recent_additions"`
}

// PlateauAnalysis is recomputed on every completed event.
type PlateauAnalysis struct {
	WindowDays          int                      `json:"window_days"`
	RecentEvents        int                      `json:"recent_events"`
	RecentAdditions     int                      `json:"lessons_added_recent_window"`
	TrendDirection      Trend                    `json:"trend_direction"`
	TrendCoefficient    float64                  `json:"trend_coefficient"`
	DiscoveryRate       float64                  `json:"unique_pattern_discovery_rate"`
	SimilarityThreshold float64                  `json:"similarity_threshold"`
	Indicators          PlateauIndicators        `json:"indicators"`
	Categories          map[string]CategoryStats `json:"category_saturation"`
}

// Status buckets the state of data collection.
type Status string

const (
	StatusActiveLearning     Status = "active_learning"
	StatusDiminishingReturns Status = "diminishing_returns"
	StatusPlateauReached     Status = "plateau_reached"
)

// Recommendations are presentational guidance derived from the totals.
type Recommendations struct {
	Status              Status   `json:"data_collection_status"`
	Actions             []string `json:"recommended_actions"`
	NextMilestoneTarget int      `json:"next_milestone_target"`
	EstimatedCompletion float64  `json:"estimated_completion_percentage"`
}

// Metadata describes the audit document itself.
type Metadata struct {
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// AuditTrail is the audit/ledger document, rewritten wholesale on every commit.
type AuditTrail struct {
	Metadata        Metadata          `json:"metadata"`
	GlobalTotals    GlobalTotals      `json:"global_totals"`
	Events          []ProcessingEvent `json:"processing_events"`
	PlateauAnalysis PlateauAnalysis   `json:"plateau_analysis"`
	Recommendations Recommendations   `json:"recommendations"`
}

func (a *AuditTrail) clone() *AuditTrail {
	c := *a
	c.Events = append([]ProcessingEvent(nil), a.Events...)
	c.GlobalTotals.Categories = append([]string(nil), a.GlobalTotals.Categories...)
	if a.GlobalTotals.Plateau.DetectedAt != nil {
		t := *a.GlobalTotals.Plateau.DetectedAt
		c.GlobalTotals.Plateau.DetectedAt = &t
	}
	c.PlateauAnalysis.Categories = make(map[string]CategoryStats, len(a.PlateauAnalysis.Categories))
	for k, v := range a.PlateauAnalysis.Categories {
		c.PlateauAnalysis.Categories[k] = v
	}
	c.Recommendations.Actions = append([]string(nil), a.Recommendations.Actions...)
	return &c
}

// Summary is the metrics projection served to dashboards.
type Summary struct {
	TotalPDFsProcessed  int     `json:"total_pdfs_processed"`
	TotalLessons        int     `json:"total_lessons"`
	DedupRate           float64 `json:"deduplication_rate"`
	Plateaued           bool    `json:"plateau_status"`
	RecentLessonsAdded  int     `json:"recent_lessons_added"`
	UniqueCategories    int     `json:"unique_categories"`
	Status              Status  `json:"data_collection_status"`
	EstimatedCompletion float64 `json:"estimated_completion"`
}

// EventSummary is one row of the audit trail tail.
type EventSummary struct {
	EventID          string    `json:"event_id"`
	Timestamp        time.Time `json:"timestamp"`
	SourceFile       string    `json:"source_file"`
	CandidateLessons int       `json:"candidate_lessons"`
	NewLessons       int       `json:"new_lessons"`
	Duplicates       int       `json:"duplicates"`
	QualityScore     float64   `json:"quality_score"`
	ProcessingTime   float64   `json:"processing_time"`
}

// CategorySummary is one row of the category breakdown.
type CategorySummary struct {
	Name            string `json:"name"`
	TotalLessons    int    `json:"total_lessons"`
	RecentAdditions int    `json:"recent_additions"`
}

// PlateauReport is the plateau-status projection.
type PlateauReport struct {
	IsPlateaued        bool       `json:"is_plateaued"`
	DetectedAt         *time.Time `json:"plateau_detected_date"`
	Recommendations    []string   `json:"recommendations"`
	RecentLessonsAdded int        `json:"recent_lessons_added"`
	TrendDirection     Trend      `json:"trend_direction"`
	UniquenessRate     float64    `json:"uniqueness_rate"`
	DedupRate          float64    `json:"deduplication_rate"`
}
