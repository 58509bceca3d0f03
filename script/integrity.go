package script

import "fmt"

// Issue describes a structural defect found in a script's causal links.
type Issue struct {
	// SceneID is the scene where the defect was observed.
	SceneID string

	// Field is the dotted path of the offending field.
	Field string

	// Reason is a human-readable description, suitable for feeding back
	// into a correction prompt.
	Reason string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s: %s", i.SceneID, i.Field, i.Reason)
}

// SetupPayoffIssues checks the integrity of the setup/payoff chain: every
// reference must point at an existing scene, and a setup must be reciprocated
// by a payoff_from entry on the target scene. Returns one Issue per defect.
func SetupPayoffIssues(s *Script) []Issue {
	idx := s.Index()
	var issues []Issue

	for i := range s.Scenes {
		sc := &s.Scenes[i]

		for _, target := range sc.SetupPayoff.SetupFor {
			other, ok := idx[target]
			if !ok {
				issues = append(issues, Issue{
					SceneID: sc.SceneID,
					Field:   "setup_payoff.setup_for",
					Reason:  fmt.Sprintf("references non-existent scene %s", target),
				})
				continue
			}
			if !contains(other.SetupPayoff.PayoffFrom, sc.SceneID) {
				issues = append(issues, Issue{
					SceneID: sc.SceneID,
					Field:   "setup_payoff.setup_for",
					Reason:  fmt.Sprintf("sets up for %s, but %s does not list %s in payoff_from", target, target, sc.SceneID),
				})
			}
		}

		for _, src := range sc.SetupPayoff.PayoffFrom {
			if _, ok := idx[src]; !ok {
				issues = append(issues, Issue{
					SceneID: sc.SceneID,
					Field:   "setup_payoff.payoff_from",
					Reason:  fmt.Sprintf("references non-existent scene %s", src),
				})
			}
		}
	}

	return issues
}

// DanglingReferences reports only the setup/payoff references that point at
// scenes which do not exist. Missing reciprocal links are not included; those
// are repairable defects, while a dangling reference is corrupt output.
func DanglingReferences(s *Script) []Issue {
	idx := s.Index()
	var issues []Issue
	for i := range s.Scenes {
		sc := &s.Scenes[i]
		for _, target := range sc.SetupPayoff.SetupFor {
			if _, ok := idx[target]; !ok {
				issues = append(issues, Issue{
					SceneID: sc.SceneID,
					Field:   "setup_payoff.setup_for",
					Reason:  fmt.Sprintf("references non-existent scene %s", target),
				})
			}
		}
		for _, src := range sc.SetupPayoff.PayoffFrom {
			if _, ok := idx[src]; !ok {
				issues = append(issues, Issue{
					SceneID: sc.SceneID,
					Field:   "setup_payoff.payoff_from",
					Reason:  fmt.Sprintf("references non-existent scene %s", src),
				})
			}
		}
	}
	return issues
}

// SetupPayoffDensity returns the fraction of the given scenes that
// participate in at least one setup/payoff link. Scene IDs not present in
// the script are ignored.
func SetupPayoffDensity(s *Script, sceneIDs []string) float64 {
	if len(sceneIDs) == 0 {
		return 0
	}
	idx := s.Index()
	linked := 0
	for _, id := range sceneIDs {
		if sc, ok := idx[id]; ok && sc.HasSetupPayoff() {
			linked++
		}
	}
	return float64(linked) / float64(len(sceneIDs))
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
