package ledger

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Similarity is the case-insensitive Ratcliff/Obershelp ratio of a and b:
// twice the size of the longest matching blocks over the combined length.
// Identical strings score 1, disjoint ones 0.
func Similarity(a, b string) float64 {
	return difflib.NewMatcher(runeSeq(a), runeSeq(b)).Ratio()
}

func runeSeq(s string) []string {
	lower := []rune(strings.ToLower(s))
	seq := make([]string, len(lower))
	for i, r := range lower {
		seq[i] = string(r)
	}
	return seq
}

// dedupIndex holds one matcher per known lesson so the per-lesson lookup
// tables are built once instead of on every comparison. Each lookup still
// scans every entry.
type dedupIndex struct {
	threshold float64
	entries   []*difflib.SequenceMatcher
}

func newDedupIndex(threshold float64, texts []string) *dedupIndex {
	ix := &dedupIndex{threshold: threshold}
	for _, t := range texts {
		ix.add(t)
	}
	return ix
}

func (ix *dedupIndex) add(text string) {
	ix.entries = append(ix.entries, difflib.NewMatcher(nil, runeSeq(text)))
}

func (ix *dedupIndex) size() int { return len(ix.entries) }

// truncate drops entries added after the index had n entries.
func (ix *dedupIndex) truncate(n int) {
	if n < len(ix.entries) {
		ix.entries = ix.entries[:n]
	}
}

// isDuplicate reports whether text is more similar than the threshold to
// any indexed lesson. The cheap upper bounds are checked first; they never
// underestimate the full ratio so the outcome is the same.
func (ix *dedupIndex) isDuplicate(text string) bool {
	seq := runeSeq(text)
	for _, m := range ix.entries {
		m.SetSeq1(seq)
		if m.RealQuickRatio() <= ix.threshold {
			continue
		}
		if m.QuickRatio() <= ix.threshold {
			continue
		}
		if m.Ratio() > ix.threshold {
			return true
		}
	}
	return false
}

// dedupe splits candidates into accepted and rejected, accepting the first
// member of every near-duplicate cluster. Accepted lessons are added to the
// index as they are found.
func (ix *dedupIndex) dedupe(candidates []Candidate) (accepted, rejected []Candidate) {
	for _, c := range candidates {
		if ix.isDuplicate(c.Content) {
			rejected = append(rejected, c)
			continue
		}
		accepted = append(accepted, c)
		ix.add(c.Content)
	}
	return accepted, rejected
}
