package ledger

import (
	"math"
	"time"
)

var (
	plateauActions = []string{
		"Consider expanding to new call types or industries",
		"Implement advanced pattern recognition for subtle variations",
		"Focus on quality refinement rather than quantity",
	}
	diminishingActions = []string{
		"Monitor for plateau signs",
		"Consider diversifying data sources",
		"Review lesson extraction techniques",
	}
	activeActions = []string{
		"Continue processing PDFs",
		"Monitor for emerging patterns",
	}
)

const milestoneStep = 50

// recentEvents returns the events strictly newer than now minus the window.
func recentEvents(events []ProcessingEvent, window time.Duration, now time.Time) []ProcessingEvent {
	cutoff := now.Add(-window)
	var out []ProcessingEvent
	for _, e := range events {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

func sumAccepted(events []ProcessingEvent) int {
	n := 0
	for _, e := range events {
		n += e.LessonsAccepted
	}
	return n
}

// analyze recomputes the plateau analysis, the sticky plateau flag and the
// recommendations of trail. It reports whether the plateau was first
// detected by this call.
//
// The plateau test is a heuristic: with at least MinEvents events in the
// window, two of three indicators (few additions in the window, high
// cumulative dedup rate, low uniqueness of the latest event) must hold.
func analyze(cfg Config, trail *AuditTrail, lessons []LessonRecord, now time.Time) bool {
	events := trail.Events
	recent := recentEvents(events, cfg.PlateauWindow, now)

	pa := PlateauAnalysis{
		WindowDays:          cfg.windowDays(),
		RecentEvents:        len(recent),
		RecentAdditions:     sumAccepted(recent),
		TrendDirection:      TrendIncreasing,
		TrendCoefficient:    1.0,
		DiscoveryRate:       1.0,
		SimilarityThreshold: cfg.SimilarityThreshold,
		Categories:          categoryStats(trail.GlobalTotals.Categories, lessons, now.Add(-cfg.PlateauWindow)),
	}

	if n := len(events); n >= 2 {
		delta := events[n-1].UniquenessContribution - events[n-2].UniquenessContribution
		pa.TrendCoefficient = delta
		switch {
		case delta > cfg.TrendDelta:
			pa.TrendDirection = TrendIncreasing
		case delta < -cfg.TrendDelta:
			pa.TrendDirection = TrendDecreasing
		default:
			pa.TrendDirection = TrendStable
		}
	}
	if n := len(events); n > 0 {
		pa.DiscoveryRate = events[n-1].UniquenessContribution
	}

	if len(recent) >= cfg.MinEvents {
		pa.Indicators = PlateauIndicators{
			Evaluated:       true,
			LowAdditionRate: pa.RecentAdditions < cfg.MinAdditions,
			HighDedupRate:   trail.GlobalTotals.DedupRate > cfg.HighDedupRate,
			LowUniqueness:   pa.DiscoveryRate < cfg.LowUniqueness,
		}
	}
	trail.PlateauAnalysis = pa

	newlyDetected := false
	if pa.Indicators.Count() >= 2 && !trail.GlobalTotals.Plateau.IsPlateaued {
		detected := now
		trail.GlobalTotals.Plateau = PlateauStatus{IsPlateaued: true, DetectedAt: &detected}
		newlyDetected = true
	}

	trail.Recommendations = recommend(cfg, trail.GlobalTotals)
	return newlyDetected
}

func categoryStats(categories []string, lessons []LessonRecord, cutoff time.Time) map[string]CategoryStats {
	stats := make(map[string]CategoryStats, len(categories))
	for _, c := range categories {
		stats[c] = CategoryStats{}
	}
	for _, l := range lessons {
		s := stats[l.Type]
		s.TotalLessons++
		if l.AddedAt.After(cutoff) {
			s.RecentAdditions++
		}
		stats[l.Type] = s
	}
	return stats
}

// recommend maps the totals onto one of the three collection statuses.
func recommend(cfg Config, totals GlobalTotals) Recommendations {
	var r Recommendations
	switch {
	case totals.Plateau.IsPlateaued:
		r.Status = StatusPlateauReached
		r.Actions = append([]string(nil), plateauActions...)
	case totals.DedupRate > cfg.DiminishingReturnsRate:
		r.Status = StatusDiminishingReturns
		r.Actions = append([]string(nil), diminishingActions...)
	default:
		r.Status = StatusActiveLearning
		r.Actions = append([]string(nil), activeActions...)
	}

	if totals.TotalNet > 0 {
		r.EstimatedCompletion = math.Min(95.0, totals.DedupRate*100)
	}
	r.NextMilestoneTarget = totals.TotalNet + milestoneStep
	return r
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
