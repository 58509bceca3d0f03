package analysis

import (
	"fmt"
	"sort"

	"github.com/storylab/threadline/script"
)

// RefineConfig carries the middleware thresholds. Defaults were tuned
// empirically on the source corpus; treat them as configuration to be
// re-validated against labeled data, not constants.
type RefineConfig struct {
	// MinCoverage is the minimum evidence-scene count divided by total
	// script scene count for a thread to survive the coverage filter.
	MinCoverage float64

	// MirrorOverlap is the Jaccard evidence overlap above which two threads
	// with near-duplicate objectives are merged.
	MirrorOverlap float64

	// MinKeywordOverlap is the minimum shared significant tokens between a
	// thread objective and an evidence scene's text.
	MinKeywordOverlap int
}

// DefaultRefineConfig returns the tuned middleware defaults.
func DefaultRefineConfig() RefineConfig {
	return RefineConfig{
		MinCoverage:       0.15,
		MirrorOverlap:     0.8,
		MinKeywordOverlap: 1,
	}
}

// EvidenceFlag marks an evidence scene whose text does not support its
// thread's objective. Flagged scenes are kept, at lowered confidence, for
// the audit stage to weigh; removing evidence outright is more destructive
// than flagging it.
type EvidenceFlag struct {
	ThreadID   string  `json:"tcc_id"`
	SceneID    string  `json:"scene_id"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// RefineResult is the middleware's output: a new thread list plus the
// diagnostics accumulated while producing it.
type RefineResult struct {
	Threads  []ConflictThread
	Warnings []string
	Flags    []EvidenceFlag
}

// RefineThreads post-processes a validated discovery output before audit:
// coverage filtering, mirror-thread merging, antagonist mutual exclusion,
// and scene-evidence cross-validation, in that order. Pure function over
// validated data; it never calls the generation service and never mutates
// its inputs.
func RefineThreads(threads []ConflictThread, s *script.Script, cfg RefineConfig) RefineResult {
	var res RefineResult

	survivors := filterByCoverage(cloneThreads(threads), s, cfg.MinCoverage, &res)
	survivors = mergeMirrors(survivors, cfg.MirrorOverlap, &res)
	survivors = mergeAntagonistPairs(survivors, cfg.MirrorOverlap, &res)
	crossValidateEvidence(survivors, s, cfg.MinKeywordOverlap, &res)

	res.Threads = survivors
	return res
}

// filterByCoverage drops threads touching too little of the script to be
// independent storylines.
func filterByCoverage(threads []ConflictThread, s *script.Script, minCoverage float64, res *RefineResult) []ConflictThread {
	total := s.SceneCount()
	if total == 0 {
		return threads
	}
	kept := threads[:0]
	for _, t := range threads {
		coverage := float64(len(t.EvidenceScenes)) / float64(total)
		if coverage < minCoverage {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"%s dropped: coverage %.2f below minimum %.2f", t.ThreadID, coverage, minCoverage))
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

// mergeMirrors collapses pairs of threads that are two views of one conflict:
// very high evidence overlap plus near-duplicate objectives. The higher
// confidence thread survives. A warning is logged per merge because the
// lexical heuristic can be wrong.
func mergeMirrors(threads []ConflictThread, overlapMin float64, res *RefineResult) []ConflictThread {
	return mergePairs(threads, res, func(a, b *ConflictThread) (bool, string) {
		overlap := JaccardOverlap(a.EvidenceScenes, b.EvidenceScenes)
		if overlap < overlapMin {
			return false, ""
		}
		if !objectivesNearDuplicate(a.SuperObjective, b.SuperObjective) {
			return false, ""
		}
		return true, fmt.Sprintf("mirror threads (evidence overlap %.2f)", overlap)
	})
}

// mergeAntagonistPairs collapses the "same conflict, opposite point of view"
// pattern: one thread's objective blocks what the other seeks, over the same
// scenes. Merged identically to mirrors, with evidence sets unioned.
func mergeAntagonistPairs(threads []ConflictThread, overlapMin float64, res *RefineResult) []ConflictThread {
	return mergePairs(threads, res, func(a, b *ConflictThread) (bool, string) {
		overlap := JaccardOverlap(a.EvidenceScenes, b.EvidenceScenes)
		if overlap < overlapMin {
			return false, ""
		}
		if !objectivesOpposed(a.SuperObjective, b.SuperObjective) {
			return false, ""
		}
		return true, fmt.Sprintf("antagonist mirror (evidence overlap %.2f)", overlap)
	})
}

// mergePairs walks unordered thread pairs; when match fires, the higher
// confidence thread absorbs the other's evidence scenes and the loser is
// dropped.
func mergePairs(threads []ConflictThread, res *RefineResult, match func(a, b *ConflictThread) (bool, string)) []ConflictThread {
	if len(threads) <= 1 {
		return threads
	}

	skip := make(map[int]bool)
	var out []ConflictThread

	for i := range threads {
		if skip[i] {
			continue
		}
		winner := threads[i]
		for j := i + 1; j < len(threads); j++ {
			if skip[j] {
				continue
			}
			ok, why := match(&winner, &threads[j])
			if !ok {
				continue
			}
			skip[j] = true
			loser := threads[j]
			if loser.Confidence > winner.Confidence {
				winner, loser = loser, winner
			}
			winner.EvidenceScenes = unionSorted(winner.EvidenceScenes, loser.EvidenceScenes)
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"merged %s into %s: %s; kept higher confidence %.2f",
				loser.ThreadID, winner.ThreadID, why, winner.Confidence))
		}
		out = append(out, winner)
	}
	return out
}

// crossValidateEvidence flags evidence scenes whose text shares no
// significant vocabulary with the thread objective. Guards against the model
// citing scenes that do not actually support the claimed conflict.
func crossValidateEvidence(threads []ConflictThread, s *script.Script, minOverlap int, res *RefineResult) {
	idx := s.Index()
	for i := range threads {
		t := &threads[i]
		flagged := 0
		for _, sceneID := range t.EvidenceScenes {
			scn, ok := idx[sceneID]
			if !ok {
				// Referential integrity was checked at validation; an
				// unknown ID here means a merge introduced it, still flag.
				res.Flags = append(res.Flags, EvidenceFlag{
					ThreadID: t.ThreadID, SceneID: sceneID,
					Reason: "scene not found in script", Confidence: 0,
				})
				flagged++
				continue
			}
			if !sceneSupportsObjective(t.SuperObjective, scn, minOverlap) {
				res.Flags = append(res.Flags, EvidenceFlag{
					ThreadID: t.ThreadID, SceneID: sceneID,
					Reason:     "no shared significant tokens with objective",
					Confidence: lowered(t.Confidence),
				})
				flagged++
			}
		}
		if flagged > 0 && flagged == len(t.EvidenceScenes) {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"%s: no evidence scene textually supports the objective", t.ThreadID))
		}
	}
}

// lowered reduces confidence for a flagged scene, floored at 0.4.
func lowered(confidence float64) float64 {
	c := confidence - 0.2
	if c < 0.4 {
		return 0.4
	}
	return c
}

func cloneThreads(threads []ConflictThread) []ConflictThread {
	out := make([]ConflictThread, len(threads))
	for i, t := range threads {
		t.EvidenceScenes = append([]string(nil), t.EvidenceScenes...)
		out[i] = t
	}
	return out
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, x := range a {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	for _, x := range b {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	sort.Strings(out)
	return out
}
