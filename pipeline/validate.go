package pipeline

import (
	"fmt"

	"github.com/storylab/threadline/analysis"
	"github.com/storylab/threadline/script"
)

// validateDiscover checks the discovery output against the input script.
// Every rejection becomes part of the corrective retry prompt, so reasons
// name the offending value.
func validateDiscover(out *analysis.DiscoverOutput, s *script.Script) []FieldError {
	var errs []FieldError

	if len(out.Threads) == 0 {
		return []FieldError{{Path: "tccs", Reason: "at least one conflict thread is required"}}
	}

	idx := s.Index()
	seenIDs := make(map[string]int, len(out.Threads))
	seenObjectives := make(map[string]int, len(out.Threads))

	for i, th := range out.Threads {
		path := fmt.Sprintf("tccs[%d]", i)

		if !analysis.ValidThreadID(th.ThreadID) {
			errs = append(errs, FieldError{
				Path:   path + ".tcc_id",
				Reason: fmt.Sprintf("%q does not match the TCC_NN pattern", th.ThreadID),
			})
		} else if prev, dup := seenIDs[th.ThreadID]; dup {
			errs = append(errs, FieldError{
				Path:   path + ".tcc_id",
				Reason: fmt.Sprintf("%s already used by tccs[%d]", th.ThreadID, prev),
			})
		} else {
			seenIDs[th.ThreadID] = i
		}

		if th.SuperObjective == "" {
			errs = append(errs, FieldError{Path: path + ".super_objective", Reason: "must not be empty"})
		} else if prev, dup := seenObjectives[th.SuperObjective]; dup {
			errs = append(errs, FieldError{
				Path:   path + ".super_objective",
				Reason: fmt.Sprintf("identical to tccs[%d]; threads must have distinct objectives", prev),
			})
		} else {
			seenObjectives[th.SuperObjective] = i
		}

		if len(th.EvidenceScenes) < 2 {
			errs = append(errs, FieldError{
				Path:   path + ".evidence_scenes",
				Reason: fmt.Sprintf("has %d scenes, need at least 2", len(th.EvidenceScenes)),
			})
		}
		for _, id := range th.EvidenceScenes {
			if _, ok := idx[id]; !ok {
				errs = append(errs, FieldError{
					Path:   path + ".evidence_scenes",
					Reason: fmt.Sprintf("scene %q does not exist in the script", id),
				})
			}
		}

		if th.Confidence < 0 || th.Confidence > 1 {
			errs = append(errs, FieldError{
				Path:   path + ".confidence",
				Reason: fmt.Sprintf("%g is outside [0, 1]", th.Confidence),
			})
		}
	}

	return errs
}

// validateAudit checks the tier ranking against the discovered threads.
// Deterministic re-scoring happens after this, so only structural coherence
// is enforced here: tier exclusivity, known IDs, and non-negative scores.
func validateAudit(out *analysis.AuditOutput, threads []analysis.ConflictThread, overlapMin float64) []FieldError {
	var errs []FieldError

	byID := make(map[string]*analysis.ConflictThread, len(threads))
	for i := range threads {
		byID[threads[i].ThreadID] = &threads[i]
	}

	placed := make(map[string]string, len(threads))
	place := func(id, tier, path string) {
		if id == "" {
			errs = append(errs, FieldError{Path: path + ".tcc_id", Reason: "must not be empty"})
			return
		}
		if _, ok := byID[id]; !ok {
			errs = append(errs, FieldError{
				Path:   path + ".tcc_id",
				Reason: fmt.Sprintf("%s is not a discovered thread", id),
			})
			return
		}
		if prev, dup := placed[id]; dup {
			errs = append(errs, FieldError{
				Path:   path + ".tcc_id",
				Reason: fmt.Sprintf("%s already placed in %s; each thread belongs to exactly one tier", id, prev),
			})
			return
		}
		placed[id] = tier
	}

	r := &out.Rankings
	place(r.ALine.ThreadID, "a_line", "rankings.a_line")
	if r.ALine.SpineScore < 0 {
		errs = append(errs, FieldError{Path: "rankings.a_line.spine_score", Reason: "must be non-negative"})
	}

	aline := byID[r.ALine.ThreadID]
	for i, b := range r.BLines {
		path := fmt.Sprintf("rankings.b_lines[%d]", i)
		place(b.ThreadID, "b_lines", path)
		if b.HeartScore < 0 {
			errs = append(errs, FieldError{Path: path + ".heart_score", Reason: "must be non-negative"})
		}
		if bt, ok := byID[b.ThreadID]; ok && aline != nil {
			overlap := analysis.OverlapFraction(bt.EvidenceScenes, aline.EvidenceScenes)
			if overlap <= overlapMin {
				errs = append(errs, FieldError{
					Path: path + ".tcc_id",
					Reason: fmt.Sprintf("shares only %.0f%% of scenes with the a_line; b_lines need more than %.0f%% overlap, demote to c_lines",
						overlap*100, overlapMin*100),
				})
			}
		}
	}
	for i, c := range r.CLines {
		path := fmt.Sprintf("rankings.c_lines[%d]", i)
		place(c.ThreadID, "c_lines", path)
		if c.FlavorScore < 0 {
			errs = append(errs, FieldError{Path: path + ".flavor_score", Reason: "must be non-negative"})
		}
	}

	for id := range byID {
		if _, ok := placed[id]; !ok {
			errs = append(errs, FieldError{
				Path:   "rankings",
				Reason: fmt.Sprintf("thread %s is missing from every tier", id),
			})
		}
	}

	return errs
}

// validateModify checks the repaired script against the original: identical
// scene-ID set, modifications targeting real scenes, no dangling causal
// references. The original script is never consulted for content, only
// identity, so a failed stage leaves it untouched.
func validateModify(out *analysis.ModifyOutput, original *script.Script, report *analysis.AuditReport) []FieldError {
	var errs []FieldError

	if out.ModifiedScript == nil {
		return []FieldError{{Path: "modified_script", Reason: "must be present"}}
	}
	mod := out.ModifiedScript

	if err := mod.Validate(); err != nil {
		errs = append(errs, FieldError{Path: "modified_script", Reason: err.Error()})
	}

	origIDs := original.Index()
	modIDs := mod.Index()
	for id := range origIDs {
		if _, ok := modIDs[id]; !ok {
			errs = append(errs, FieldError{
				Path:   "modified_script.scenes",
				Reason: fmt.Sprintf("scene %s from the input is missing; no scenes may be removed", id),
			})
		}
	}
	for id := range modIDs {
		if _, ok := origIDs[id]; !ok {
			errs = append(errs, FieldError{
				Path:   "modified_script.scenes",
				Reason: fmt.Sprintf("scene %s does not exist in the input; no scenes may be added", id),
			})
		}
	}

	knownIssues := make(map[string]bool, len(report.Issues))
	for _, iss := range report.Issues {
		knownIssues[iss.IssueID] = true
	}
	for i, m := range out.ModificationLog {
		path := fmt.Sprintf("modification_log[%d]", i)
		if !knownIssues[m.IssueID] {
			errs = append(errs, FieldError{
				Path:   path + ".issue_id",
				Reason: fmt.Sprintf("%q is not an issue from the audit report", m.IssueID),
			})
		}
		if m.Applied {
			if _, ok := modIDs[m.SceneID]; !ok {
				errs = append(errs, FieldError{
					Path:   path + ".scene_id",
					Reason: fmt.Sprintf("applied modification targets non-existent scene %q", m.SceneID),
				})
			}
		}
	}

	for _, iss := range script.DanglingReferences(mod) {
		errs = append(errs, FieldError{
			Path:   "modified_script." + iss.SceneID + "." + iss.Field,
			Reason: iss.Reason,
		})
	}

	return errs
}
