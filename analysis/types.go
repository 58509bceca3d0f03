// Package analysis defines the conflict-thread data model produced by the
// pipeline stages, plus the pure post-processing applied to it: field
// normalization, importance scoring, and the thread-refinement middleware.
package analysis

import (
	"regexp"

	"github.com/storylab/threadline/script"
)

// Identifier patterns for model-produced IDs.
var (
	threadIDPattern = regexp.MustCompile(`^TCC_\d{2}$`)
	issueIDPattern  = regexp.MustCompile(`ISS_\d{3}`)
)

// ConflictType classifies the nature of a conflict thread.
type ConflictType string

const (
	ConflictInterpersonal ConflictType = "interpersonal"
	ConflictInternal      ConflictType = "internal"
	ConflictIdeological   ConflictType = "ideological"
)

// ChangeType is the closed vocabulary for script modifications.
type ChangeType string

const (
	ChangeAdd     ChangeType = "add"
	ChangeAppend  ChangeType = "append"
	ChangeRemove  ChangeType = "remove"
	ChangeReplace ChangeType = "replace"
)

// ConflictThread is an independent narrative line (TCC) with a stated
// objective, evidenced by a set of scenes. Threads are never mutated after
// discovery; refinement produces new values.
type ConflictThread struct {
	// ThreadID identifies the thread (TCC_01).
	ThreadID string `json:"tcc_id"`

	// SuperObjective is the ultimate goal driving the thread.
	SuperObjective string `json:"super_objective"`

	// ConflictType classifies the conflict.
	ConflictType ConflictType `json:"conflict_type"`

	// EvidenceScenes are the scene IDs where the thread appears, at least two.
	EvidenceScenes []string `json:"evidence_scenes"`

	// Confidence is the model's confidence in [0,1].
	Confidence float64 `json:"confidence"`
}

// ValidThreadID reports whether id matches the TCC_NN pattern.
func ValidThreadID(id string) bool {
	return threadIDPattern.MatchString(id)
}

// DiscoverMetadata describes how the discovery stage operated.
type DiscoverMetadata struct {
	TotalScenesAnalyzed int `json:"total_scenes_analyzed"`

	// PrimaryEvidenceAvailable reports whether setup/payoff and relation
	// changes were present in the input.
	PrimaryEvidenceAvailable bool `json:"primary_evidence_available"`

	// FallbackMode is set when discovery ran on secondary evidence
	// (scene missions and key events) only.
	FallbackMode   bool   `json:"fallback_mode"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// DiscoverOutput is the validated result of the discovery stage.
type DiscoverOutput struct {
	Threads  []ConflictThread `json:"tccs"`
	Metadata DiscoverMetadata `json:"metadata"`
}

// Forces names the opposing parties in a thread.
type Forces struct {
	Protagonist        string   `json:"protagonist"`
	PrimaryAntagonist  string   `json:"primary_antagonist"`
	DynamicAntagonists []string `json:"dynamic_antagonist,omitempty"`
}

// ALineReasoning explains an A-line (spine) ranking.
type ALineReasoning struct {
	SceneCount         int     `json:"scene_count"`
	SetupPayoffDensity float64 `json:"setup_payoff_density"`
	DrivesClimax       bool    `json:"drives_climax"`
}

// ALine is the main plot: exactly one per ranking.
type ALine struct {
	ThreadID       string         `json:"tcc_id"`
	SuperObjective string         `json:"super_objective"`
	SpineScore     float64        `json:"spine_score"`
	Reasoning      ALineReasoning `json:"reasoning"`
	Forces         Forces         `json:"forces"`
}

// BLineReasoning explains a B-line (heart) ranking.
type BLineReasoning struct {
	EmotionalIntensity float64 `json:"emotional_intensity"`
	ALineInteraction   float64 `json:"a_line_interaction"`
	InternalConflict   bool    `json:"internal_conflict"`
}

// BLine is a subplot with emotional depth, required to interact with the
// A-line above a configured fraction.
type BLine struct {
	ThreadID       string         `json:"tcc_id"`
	SuperObjective string         `json:"super_objective"`
	HeartScore     float64        `json:"heart_score"`
	Reasoning      BLineReasoning `json:"reasoning"`
	Forces         Forces         `json:"forces"`
}

// CLineReasoning explains a C-line (flavor) ranking.
type CLineReasoning struct {
	ThematicRelevance float64 `json:"thematic_relevance"`
	Removable         bool    `json:"removable"`
}

// CLine is a minor decorative thread.
type CLine struct {
	ThreadID       string         `json:"tcc_id"`
	SuperObjective string         `json:"super_objective"`
	FlavorScore    float64        `json:"flavor_score"`
	Reasoning      CLineReasoning `json:"reasoning"`
	Forces         Forces         `json:"forces"`
}

// TierRanking assigns every surviving thread to exactly one tier.
type TierRanking struct {
	ALine  ALine   `json:"a_line"`
	BLines []BLine `json:"b_lines,omitempty"`
	CLines []CLine `json:"c_lines,omitempty"`
}

// AuditMetrics summarizes tier coverage of the script.
type AuditMetrics struct {
	TotalScenes   int     `json:"total_scenes"`
	ALineCoverage float64 `json:"a_line_coverage"`
	BLineCoverage float64 `json:"b_line_coverage"`
	CLineCoverage float64 `json:"c_line_coverage"`
}

// AuditOutput is the validated result of the audit stage.
type AuditOutput struct {
	Rankings TierRanking  `json:"rankings"`
	Metrics  AuditMetrics `json:"metrics"`
}

// Severity grades an audit issue.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// SuggestedFix describes the repair for an issue.
type SuggestedFix struct {
	Action      string `json:"action"`
	TargetScene string `json:"target_scene"`
	Field       string `json:"field"`
	Value       any    `json:"value"`
}

// Issue is a structural defect handed to the modify stage.
type Issue struct {
	IssueID        string       `json:"issue_id"`
	Severity       Severity     `json:"severity"`
	Category       string       `json:"category"`
	Description    string       `json:"description"`
	AffectedScenes []string     `json:"affected_scenes"`
	SuggestedFix   SuggestedFix `json:"suggested_fix"`
}

// AuditReport is the issue list fed into the modify stage.
type AuditReport struct {
	Issues []Issue `json:"issues"`
}

// Modification is one entry in the modify stage's append-only change log.
type Modification struct {
	IssueID    string     `json:"issue_id"`
	Applied    bool       `json:"applied"`
	SceneID    string     `json:"scene_id,omitempty"`
	Field      string     `json:"field,omitempty"`
	ChangeType ChangeType `json:"change_type,omitempty"`
	OldValue   any        `json:"old_value,omitempty"`
	NewValue   any        `json:"new_value,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// ModifyValidation cross-checks the modification counts.
type ModifyValidation struct {
	TotalIssues         int `json:"total_issues"`
	Fixed               int `json:"fixed"`
	Skipped             int `json:"skipped"`
	NewIssuesIntroduced int `json:"new_issues_introduced"`
}

// ModifyOutput is the validated result of the modify stage.
type ModifyOutput struct {
	ModifiedScript  *script.Script   `json:"modified_script"`
	ModificationLog []Modification   `json:"modification_log"`
	Validation      ModifyValidation `json:"validation"`
}
