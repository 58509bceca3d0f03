package analysis

import (
	"strings"
	"unicode"

	"github.com/storylab/threadline/script"
)

// Lexical-overlap heuristics shared by the middleware and the scorer.
// These are judgment calls, not exact algorithms; thresholds live in
// configuration so they can be re-tuned against labeled data.

// stopWords are tokens too common to count as evidence of shared meaning.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "to": true, "of": true, "and": true,
	"in": true, "for": true, "on": true, "with": true, "as": true,
	"at": true, "by": true, "from": true, "his": true, "her": true,
	"their": true, "that": true, "this": true, "it": true, "be": true,
	"wants": true, "want": true, "seeks": true, "seek": true, "must": true,
	"tries": true, "try": true, "will": true, "into": true, "about": true,
}

// significantTokens extracts lowercase word tokens minus stop words.
func significantTokens(text string) map[string]bool {
	tokens := make(map[string]bool)
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		w := strings.ToLower(b.String())
		b.Reset()
		if len(w) < 2 || stopWords[w] {
			return
		}
		tokens[w] = true
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// sharedTokenCount counts significant tokens common to both texts. Substring
// containment between tokens also counts, so "investor" matches "investors".
func sharedTokenCount(a, b string) int {
	ta := significantTokens(a)
	tb := significantTokens(b)
	shared := make(map[string]bool)
	for w := range ta {
		if tb[w] {
			shared[w] = true
			continue
		}
		if len(w) >= 3 {
			for x := range tb {
				if len(x) >= 3 && (strings.Contains(x, w) || strings.Contains(w, x)) {
					shared[w] = true
					break
				}
			}
		}
	}
	return len(shared)
}

// objectivesNearDuplicate reports whether two objectives share enough
// significant vocabulary to be the same conflict restated.
func objectivesNearDuplicate(a, b string) bool {
	ta := significantTokens(a)
	tb := significantTokens(b)
	smaller := len(ta)
	if len(tb) < smaller {
		smaller = len(tb)
	}
	if smaller == 0 {
		return false
	}
	shared := 0
	for w := range ta {
		if tb[w] {
			shared++
		}
	}
	return float64(shared)/float64(smaller) >= 0.5
}

// oppositionMarkers pair a blocking verb with an achieving verb. Objectives
// carrying opposite markers over the same scenes are two views of one
// conflict.
var oppositionMarkers = [][2]string{
	{"block", "get"}, {"stop", "achieve"}, {"prevent", "want"},
	{"against", "for"}, {"destroy", "build"}, {"oppose", "support"},
	{"sabotage", "secure"}, {"deny", "win"},
}

// objectivesOpposed reports whether one objective blocks what the other seeks.
func objectivesOpposed(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	for _, m := range oppositionMarkers {
		if (strings.Contains(la, m[0]) && strings.Contains(lb, m[1])) ||
			(strings.Contains(lb, m[0]) && strings.Contains(la, m[1])) {
			return true
		}
	}
	return false
}

// sceneEvidenceText concatenates a scene's textual evidence: mission, key
// events, performance notes, visual actions, and relation changes.
func sceneEvidenceText(scn *script.Scene) string {
	var b strings.Builder
	b.WriteString(scn.SceneMission)
	for _, e := range scn.KeyEvents {
		b.WriteByte(' ')
		b.WriteString(e)
	}
	for _, n := range scn.PerformanceNotes {
		b.WriteByte(' ')
		b.WriteString(n.Character)
		b.WriteByte(' ')
		b.WriteString(n.Note)
	}
	for _, v := range scn.VisualActions {
		b.WriteByte(' ')
		b.WriteString(v)
	}
	for _, rc := range scn.RelationChanges {
		b.WriteByte(' ')
		b.WriteString(strings.Join(rc.Chars, " "))
		b.WriteByte(' ')
		b.WriteString(rc.From)
		b.WriteByte(' ')
		b.WriteString(rc.To)
	}
	return b.String()
}

// sceneSupportsObjective reports whether a scene's text shares at least
// minOverlap significant tokens with the thread objective.
func sceneSupportsObjective(objective string, scn *script.Scene, minOverlap int) bool {
	return sharedTokenCount(objective, sceneEvidenceText(scn)) >= minOverlap
}
