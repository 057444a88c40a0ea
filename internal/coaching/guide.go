// Package coaching renders agent analyses and the lesson corpus as a
// markdown coaching guide, usable as the system prompt of a sales agent.
package coaching

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/mentor/internal/ledger"
)

// DefaultPerSection caps the points listed under one section.
const DefaultPerSection = 6

// Topic names an analysis agent and the heading of its section.
type Topic struct {
	Name  string
	Title string
}

type Score struct {
	Name  string
	Value float64
}

type Section struct {
	Title  string
	Scores []Score
	Points []string
	Note   string
}

// Guide is a rendered-ready coaching document.
type Guide struct {
	Heading  string
	Intro    string
	Sections []Section
}

var principles = []string{
	"Lead with empathy and understanding",
	"Solve the customer's problem before selling a product",
	"Use language patterns that worked on real calls",
	"Adapt the approach to how the customer responds",
	"Build genuine rapport and trust throughout the conversation",
}

var closes = []Section{
	{Title: "Assumption Close", Points: []string{`"Let me get the paperwork started for you..."`}},
	{Title: "Alternative Close", Points: []string{`"Would you prefer the standard or the complete package?"`}},
	{Title: "Urgency Close", Points: []string{`"I can hold today's pricing for you until Friday..."`}},
}

// FromAnalysis builds the guide for one transcript from its agent bundles.
// Sections follow the topic order; bundles of agents missing from topics
// are appended in name order.
func FromAnalysis(sourceFile string, topics []Topic, results map[string]ledger.Value) Guide {
	known := make(map[string]bool, len(topics))
	for _, t := range topics {
		known[t.Name] = true
	}
	var extra []string
	for name := range results {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		topics = append(topics, Topic{Name: name, Title: heading(name)})
	}

	completed := 0
	var sections []Section
	for _, t := range topics {
		bundle, ok := results[t.Name]
		if !ok {
			continue
		}
		if ledger.IsFailedBundle(bundle) {
			msg, _ := bundle.Get("error")
			text, _ := msg.Str()
			sections = append(sections, Section{Title: t.Title, Note: "Analysis unavailable: " + text})
			continue
		}
		completed++
		s := Section{
			Title:  t.Title,
			Scores: scores(bundle),
			Points: points(t.Name, bundle),
		}
		if len(s.Points) == 0 && len(s.Scores) == 0 {
			s.Note = "No reusable techniques found in this call."
		}
		sections = append(sections, s)
	}

	return Guide{
		Heading:  "Expert Sales Agent",
		Intro:    fmt.Sprintf("You are an expert sales agent coached from %d completed analyses of the call %s.", completed, sourceFile),
		Sections: sections,
	}
}

// FromLessons builds the guide for the whole corpus: one section per lesson
// category, listing its highest-quality lessons first.
func FromLessons(lessons []ledger.LessonRecord, perSection int) Guide {
	if perSection <= 0 {
		perSection = DefaultPerSection
	}
	byType := make(map[string][]ledger.LessonRecord)
	for _, l := range lessons {
		byType[l.Type] = append(byType[l.Type], l)
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	sections := make([]Section, 0, len(types))
	for _, t := range types {
		group := byType[t]
		sort.SliceStable(group, func(i, j int) bool { return group[i].QualityScore > group[j].QualityScore })
		s := Section{Title: heading(t)}
		for i, l := range group {
			if i == perSection {
				break
			}
			s.Points = append(s.Points, l.Content)
		}
		sections = append(sections, s)
	}

	return Guide{
		Heading:  "Expert Sales Agent",
		Intro:    fmt.Sprintf("You are an expert sales agent coached from %d unique lessons in %d categories.", len(lessons), len(types)),
		Sections: sections,
	}
}

// points are the lesson texts harvested from one bundle, without repeats.
func points(agent string, bundle ledger.Value) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range ledger.ExtractCandidates(map[string]ledger.Value{agent: bundle}) {
		key := strings.ToLower(c.Content)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c.Content)
		if len(out) == DefaultPerSection {
			break
		}
	}
	return out
}

// scores collects numeric fields of top-level objects whose key mentions a
// score, e.g. "effectiveness_scoring": {"overall": 7}.
func scores(bundle ledger.Value) []Score {
	var out []Score
	for _, f := range bundle.Fields() {
		if !strings.Contains(f.Key, "scor") {
			continue
		}
		if n, ok := f.Value.Num(); ok {
			out = append(out, Score{Name: heading(f.Key), Value: n})
			continue
		}
		for _, sub := range f.Value.Fields() {
			if n, ok := sub.Value.Num(); ok {
				out = append(out, Score{Name: heading(sub.Key), Value: n})
			}
		}
	}
	return out
}

func heading(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

var guideTmpl = template.Must(template.New("guide").Funcs(template.FuncMap{
	"num": func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) },
}).Parse(`# {{.Guide.Heading}}

{{.Guide.Intro}}

## Core Principles
{{range .Principles}}- {{.}}
{{end}}
{{- range .Guide.Sections}}
## {{.Title}}
{{if .Scores}}
Scores: {{range $i, $s := .Scores}}{{if $i}}, {{end}}{{$s.Name}} {{num $s.Value}}{{end}}
{{end}}{{if .Points}}
{{range .Points}}- {{.}}
{{end}}{{end}}{{with .Note}}
_{{.}}_
{{end}}{{end}}
## Closing Mastery
{{range .Closes}}
### {{.Title}}
{{range .Points}}- {{.}}
{{end}}{{end}}
Always focus on the customer's needs, not just on making a sale.
`))

// Render writes g as markdown.
func Render(w io.Writer, g Guide) error {
	return guideTmpl.Execute(w, struct {
		Guide      Guide
		Principles []string
		Closes     []Section
	}{g, principles, closes})
}
