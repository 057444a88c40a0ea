package ledger

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// minLessonLen is exclusive: a lesson must be longer than this many characters.
const minLessonLen = 10

// insightKeys are the bundle keys whose values carry coaching insight.
var insightKeys = []string{
	"key_insights", "insights", "learnings", "patterns", "techniques",
	"recommendations", "best_practices", "power_phrases", "strategies",
	"observations", "findings", "analysis_points",
	"improvement_recommendations", "improvement_opportunities", "missed_opportunities",
	"handling_techniques", "rapport_techniques", "power_phrases_identified",
	"optimization_recommendations", "effectiveness_tips", "strategic_insights",
}

// textKeys are checked in order when a list element is an object.
var textKeys = []string{
	"agent_response", "response_text", "technique_description",
	"recommendation", "suggestion", "insight", "observation",
	"strategy", "approach", "method", "phrase", "example",
}

// Bundle status values set by whoever runs the agents. A failed agent's
// bundle has status AgentFailed and an "error" message instead of analysis.
const (
	AgentCompleted = "completed"
	AgentFailed    = "agent_error"
)

// IsFailedBundle reports whether bundle stands in for a failed agent: it is
// marked AgentFailed, or it has no status at all and carries an "error" key.
func IsFailedBundle(bundle Value) bool {
	v, ok := bundle.Get("status")
	if !ok {
		return bundle.Has("error")
	}
	s, _ := v.Str()
	return s == AgentFailed
}

// ExtractCandidates harvests lesson candidates from every agent's result
// bundle. Agents are visited in name order; bundles that are not objects or
// that IsFailedBundle reports contribute nothing. An "error" field in a
// completed analysis is ordinary content. It does not touch the ledger.
func ExtractCandidates(results map[string]Value) []Candidate {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Candidate
	for _, name := range names {
		bundle := results[name]
		if bundle.Kind() != Object || IsFailedBundle(bundle) {
			continue
		}
		out = append(out, extractFromBundle(name, bundle)...)
	}
	return out
}

func extractFromBundle(agent string, bundle Value) []Candidate {
	var out []Candidate
	for _, key := range insightKeys {
		v, ok := bundle.Get(key)
		if !ok {
			continue
		}
		switch v.Kind() {
		case List:
			for _, item := range v.Items() {
				var text string
				switch item.Kind() {
				case String:
					text, _ = item.Str()
				case Object:
					text = lessonText(item)
				default:
					continue
				}
				if c, ok := newCandidate(agent, key, text); ok {
					out = append(out, c)
				}
			}
		case String:
			text, _ := v.Str()
			if c, ok := newCandidate(agent, key, text); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

func newCandidate(agent, key, text string) (Candidate, bool) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= minLessonLen {
		return Candidate{}, false
	}
	return Candidate{
		Type:          LessonType(agent),
		Content:       text,
		SourceAgent:   agent,
		ExtractionKey: key,
		QualityScore:  EstimateQuality(text),
	}, true
}

// lessonText picks a representative string out of a structured list element.
func lessonText(item Value) string {
	for _, key := range textKeys {
		if v, ok := item.Get(key); ok {
			if s, ok := v.Str(); ok {
				return s
			}
		}
	}

	technique, hasTechnique := item.Get("technique_used")
	response, hasResponse := item.Get("agent_response")
	if hasTechnique && hasResponse {
		return fmt.Sprintf("Technique: %s - Response: %s", technique.Text(), response.Text())
	}

	if item.Len() > 3 {
		return ""
	}
	var parts []string
	for _, f := range item.Fields() {
		if s, ok := f.Value.Str(); ok {
			parts = append(parts, f.Key+": "+s)
		}
	}
	return strings.Join(parts, " | ")
}

// LessonType derives a lesson category from the agent that produced it.
func LessonType(agent string) string {
	return strings.ReplaceAll(strings.ToLower(agent), "agent", "")
}
