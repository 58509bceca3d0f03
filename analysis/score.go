package analysis

import (
	"sort"

	"github.com/storylab/threadline/script"
)

// Scorer computes the deterministic importance scores used to rank conflict
// threads into tiers. All inputs are plain counting and set intersection over
// the Script and thread data; there is no hidden state, so a Scorer is safe
// to share across stages and runs.
type Scorer struct {
	// ClimaxFraction is the trailing fraction of scenes (by scene count)
	// treated as the climax region for the spine bonus and tie-break.
	ClimaxFraction float64

	// BLineOverlapMin is the A-line scene-overlap fraction a thread must
	// exceed to qualify as a B-line rather than a C-line.
	BLineOverlapMin float64
}

// NewScorer returns a Scorer with the default thresholds.
func NewScorer() *Scorer {
	return &Scorer{ClimaxFraction: 0.2, BLineOverlapMin: 0.3}
}

// climaxBonus is added to the spine score of threads touching the final
// scenes of the script.
const climaxBonus = 10.0

// TouchesClimax reports whether any evidence scene falls within the trailing
// climax region of the script. Proximity is measured by scene count; the
// source material left count-versus-runtime unresolved and runtime is not in
// the data model.
func (sc *Scorer) TouchesClimax(t *ConflictThread, s *script.Script) bool {
	n := s.SceneCount()
	if n == 0 {
		return false
	}
	// First position inside the climax region.
	boundary := n - int(float64(n)*sc.ClimaxFraction)
	if boundary >= n {
		boundary = n - 1
	}
	for _, id := range t.EvidenceScenes {
		if pos := s.ScenePosition(id); pos >= boundary {
			return true
		}
	}
	return false
}

// SpineScore measures main-plot weight:
// scene count x 2 + setup/payoff density x 1.5 + climax bonus.
func (sc *Scorer) SpineScore(t *ConflictThread, s *script.Script) float64 {
	score := float64(len(t.EvidenceScenes))*2 + script.SetupPayoffDensity(s, t.EvidenceScenes)*1.5
	if sc.TouchesClimax(t, s) {
		score += climaxBonus
	}
	return score
}

// OverlapFraction is the scene overlap between two threads relative to the
// smaller evidence set.
func OverlapFraction(a, b []string) float64 {
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	if smaller == 0 {
		return 0
	}
	return float64(len(intersect(a, b))) / float64(smaller)
}

// JaccardOverlap is |A∩B| / |A∪B| over two evidence-scene sets.
func JaccardOverlap(a, b []string) float64 {
	inter := len(intersect(a, b))
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// relationChangeCount counts relation changes across a thread's evidence scenes.
func relationChangeCount(t *ConflictThread, idx map[string]*script.Scene) int {
	n := 0
	for _, id := range t.EvidenceScenes {
		if scn, ok := idx[id]; ok {
			n += len(scn.RelationChanges)
		}
	}
	return n
}

// thematicDepth estimates emotional/thematic density: info changes and
// performance notes per evidence scene. A counting proxy; the reasoning
// block records it so reviewers can see what the number came from.
func thematicDepth(t *ConflictThread, idx map[string]*script.Scene) float64 {
	if len(t.EvidenceScenes) == 0 {
		return 0
	}
	n := 0
	for _, id := range t.EvidenceScenes {
		if scn, ok := idx[id]; ok {
			n += len(scn.InfoChanges) + len(scn.PerformanceNotes)
		}
	}
	return float64(n) / float64(len(t.EvidenceScenes))
}

// HeartScore measures subplot emotional weight:
// relation changes x 1.5 + A-line overlap x 2.0 + thematic depth x 1.0.
func (sc *Scorer) HeartScore(t *ConflictThread, aLineScenes []string, s *script.Script) float64 {
	idx := s.Index()
	return float64(relationChangeCount(t, idx))*1.5 +
		OverlapFraction(t.EvidenceScenes, aLineScenes)*2.0 +
		thematicDepth(t, idx)
}

// FlavorScore measures decorative-thread weight: thematic relevance minus a
// removability penalty. Relevance is the fraction of evidence scenes whose
// text shares significant tokens with the objective; a thread whose scenes
// carry no setup/payoff links is removable and penalized.
func (sc *Scorer) FlavorScore(t *ConflictThread, s *script.Script) float64 {
	idx := s.Index()
	relevant := 0
	for _, id := range t.EvidenceScenes {
		if scn, ok := idx[id]; ok && sceneSupportsObjective(t.SuperObjective, scn, 1) {
			relevant++
		}
	}
	relevance := 0.0
	if len(t.EvidenceScenes) > 0 {
		relevance = float64(relevant) / float64(len(t.EvidenceScenes)) * 5.0
	}
	penalty := 0.0
	if sc.removable(t, s) {
		penalty = 1.0
	}
	return relevance - penalty
}

// removable reports whether none of the thread's evidence scenes participate
// in a setup/payoff link.
func (sc *Scorer) removable(t *ConflictThread, s *script.Script) bool {
	return script.SetupPayoffDensity(s, t.EvidenceScenes) == 0
}

// SelectALine picks the A-line thread index: highest spine score, ties broken
// by climax proximity, then by lowest thread ID (discovery order).
func (sc *Scorer) SelectALine(threads []ConflictThread, s *script.Script) int {
	best := -1
	var bestScore float64
	for i := range threads {
		score := sc.SpineScore(&threads[i], s)
		switch {
		case best == -1 || score > bestScore:
			best, bestScore = i, score
		case score == bestScore:
			if sc.breakTie(&threads[i], &threads[best], s) {
				best = i
			}
		}
	}
	return best
}

// breakTie reports whether candidate wins over incumbent at equal spine score.
func (sc *Scorer) breakTie(candidate, incumbent *ConflictThread, s *script.Script) bool {
	cClimax := sc.TouchesClimax(candidate, s)
	iClimax := sc.TouchesClimax(incumbent, s)
	if cClimax != iClimax {
		return cClimax
	}
	return candidate.ThreadID < incumbent.ThreadID
}

// Rank assigns every thread to exactly one tier with deterministic scores.
// Forces and qualitative reasoning fields are left for the audit stage to
// fill in from the model's output; the arithmetic here is authoritative.
func (sc *Scorer) Rank(threads []ConflictThread, s *script.Script) *TierRanking {
	if len(threads) == 0 {
		return nil
	}

	aIdx := sc.SelectALine(threads, s)
	a := threads[aIdx]

	ranking := &TierRanking{
		ALine: ALine{
			ThreadID:       a.ThreadID,
			SuperObjective: a.SuperObjective,
			SpineScore:     sc.SpineScore(&a, s),
			Reasoning: ALineReasoning{
				SceneCount:         len(a.EvidenceScenes),
				SetupPayoffDensity: script.SetupPayoffDensity(s, a.EvidenceScenes),
				DrivesClimax:       sc.TouchesClimax(&a, s),
			},
		},
	}

	idx := s.Index()
	for i := range threads {
		if i == aIdx {
			continue
		}
		t := threads[i]
		overlap := OverlapFraction(t.EvidenceScenes, a.EvidenceScenes)
		if overlap > sc.BLineOverlapMin {
			ranking.BLines = append(ranking.BLines, BLine{
				ThreadID:       t.ThreadID,
				SuperObjective: t.SuperObjective,
				HeartScore:     sc.HeartScore(&t, a.EvidenceScenes, s),
				Reasoning: BLineReasoning{
					EmotionalIntensity: thematicDepth(&t, idx),
					ALineInteraction:   overlap,
					InternalConflict:   t.ConflictType == ConflictInternal,
				},
			})
		} else {
			ranking.CLines = append(ranking.CLines, CLine{
				ThreadID:       t.ThreadID,
				SuperObjective: t.SuperObjective,
				FlavorScore:    sc.FlavorScore(&t, s),
				Reasoning: CLineReasoning{
					ThematicRelevance: sc.FlavorScore(&t, s) + boolPenalty(sc.removable(&t, s)),
					Removable:         sc.removable(&t, s),
				},
			})
		}
	}

	sort.Slice(ranking.BLines, func(i, j int) bool {
		return ranking.BLines[i].HeartScore > ranking.BLines[j].HeartScore
	})
	sort.Slice(ranking.CLines, func(i, j int) bool {
		return ranking.CLines[i].FlavorScore > ranking.CLines[j].FlavorScore
	})

	return ranking
}

// CoverageMetrics computes per-tier scene coverage for the audit output.
func (sc *Scorer) CoverageMetrics(threads []ConflictThread, ranking *TierRanking, s *script.Script) AuditMetrics {
	byID := make(map[string]*ConflictThread, len(threads))
	for i := range threads {
		byID[threads[i].ThreadID] = &threads[i]
	}

	coverage := func(ids ...string) float64 {
		seen := make(map[string]bool)
		for _, id := range ids {
			if t, ok := byID[id]; ok {
				for _, sid := range t.EvidenceScenes {
					seen[sid] = true
				}
			}
		}
		if s.SceneCount() == 0 {
			return 0
		}
		return float64(len(seen)) / float64(s.SceneCount())
	}

	m := AuditMetrics{TotalScenes: s.SceneCount()}
	m.ALineCoverage = coverage(ranking.ALine.ThreadID)

	bIDs := make([]string, len(ranking.BLines))
	for i, b := range ranking.BLines {
		bIDs[i] = b.ThreadID
	}
	m.BLineCoverage = coverage(bIDs...)

	cIDs := make([]string, len(ranking.CLines))
	for i, c := range ranking.CLines {
		cIDs[i] = c.ThreadID
	}
	m.CLineCoverage = coverage(cIDs...)

	return m
}

func boolPenalty(b bool) float64 {
	if b {
		return 1.0
	}
	return 0
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	var out []string
	seen := make(map[string]bool)
	for _, y := range b {
		if set[y] && !seen[y] {
			out = append(out, y)
			seen[y] = true
		}
	}
	return out
}
