package pipeline

import (
	"encoding/json"

	"github.com/storylab/threadline/analysis"
	"github.com/storylab/threadline/script"
)

// The wire structs tolerate the loose typing the generation service is known
// to produce: enum fields arrive as free text, list fields sometimes arrive
// as a single string. Normalization closes the gap before validation runs,
// so a response is only rejected for problems a retry can actually fix.

type threadWire struct {
	ThreadID       string  `json:"tcc_id"`
	SuperObjective string  `json:"super_objective"`
	ConflictType   string  `json:"conflict_type"`
	EvidenceScenes any     `json:"evidence_scenes"`
	Confidence     float64 `json:"confidence"`
}

type discoverWire struct {
	Threads  []threadWire              `json:"tccs"`
	Metadata analysis.DiscoverMetadata `json:"metadata"`
}

func decodeDiscover(raw string) (*analysis.DiscoverOutput, []FieldError) {
	var w discoverWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, []FieldError{{Path: "$", Reason: "response is not valid JSON: " + err.Error()}}
	}
	out := &analysis.DiscoverOutput{
		Threads:  make([]analysis.ConflictThread, len(w.Threads)),
		Metadata: w.Metadata,
	}
	for i, tw := range w.Threads {
		out.Threads[i] = analysis.ConflictThread{
			ThreadID:       tw.ThreadID,
			SuperObjective: tw.SuperObjective,
			ConflictType:   analysis.NormalizeConflictType(tw.ConflictType),
			EvidenceScenes: analysis.NormalizeStringList(tw.EvidenceScenes),
			Confidence:     tw.Confidence,
		}
	}
	return out, nil
}

type forcesWire struct {
	Protagonist        string `json:"protagonist"`
	PrimaryAntagonist  string `json:"primary_antagonist"`
	DynamicAntagonists any    `json:"dynamic_antagonist"`
}

func (w forcesWire) toForces() analysis.Forces {
	return analysis.Forces{
		Protagonist:        w.Protagonist,
		PrimaryAntagonist:  w.PrimaryAntagonist,
		DynamicAntagonists: analysis.NormalizeStringList(w.DynamicAntagonists),
	}
}

type aLineWire struct {
	ThreadID       string                  `json:"tcc_id"`
	SuperObjective string                  `json:"super_objective"`
	SpineScore     float64                 `json:"spine_score"`
	Reasoning      analysis.ALineReasoning `json:"reasoning"`
	Forces         forcesWire              `json:"forces"`
}

type bLineWire struct {
	ThreadID       string                  `json:"tcc_id"`
	SuperObjective string                  `json:"super_objective"`
	HeartScore     float64                 `json:"heart_score"`
	Reasoning      analysis.BLineReasoning `json:"reasoning"`
	Forces         forcesWire              `json:"forces"`
}

type cLineWire struct {
	ThreadID       string                  `json:"tcc_id"`
	SuperObjective string                  `json:"super_objective"`
	FlavorScore    float64                 `json:"flavor_score"`
	Reasoning      analysis.CLineReasoning `json:"reasoning"`
	Forces         forcesWire              `json:"forces"`
}

type auditWire struct {
	Rankings struct {
		ALine  aLineWire   `json:"a_line"`
		BLines []bLineWire `json:"b_lines"`
		CLines []cLineWire `json:"c_lines"`
	} `json:"rankings"`
	Metrics analysis.AuditMetrics `json:"metrics"`
}

func decodeAudit(raw string) (*analysis.AuditOutput, []FieldError) {
	var w auditWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, []FieldError{{Path: "$", Reason: "response is not valid JSON: " + err.Error()}}
	}
	out := &analysis.AuditOutput{Metrics: w.Metrics}
	out.Rankings.ALine = analysis.ALine{
		ThreadID:       w.Rankings.ALine.ThreadID,
		SuperObjective: w.Rankings.ALine.SuperObjective,
		SpineScore:     w.Rankings.ALine.SpineScore,
		Reasoning:      w.Rankings.ALine.Reasoning,
		Forces:         w.Rankings.ALine.Forces.toForces(),
	}
	for _, b := range w.Rankings.BLines {
		out.Rankings.BLines = append(out.Rankings.BLines, analysis.BLine{
			ThreadID:       b.ThreadID,
			SuperObjective: b.SuperObjective,
			HeartScore:     b.HeartScore,
			Reasoning:      b.Reasoning,
			Forces:         b.Forces.toForces(),
		})
	}
	for _, c := range w.Rankings.CLines {
		out.Rankings.CLines = append(out.Rankings.CLines, analysis.CLine{
			ThreadID:       c.ThreadID,
			SuperObjective: c.SuperObjective,
			FlavorScore:    c.FlavorScore,
			Reasoning:      c.Reasoning,
			Forces:         c.Forces.toForces(),
		})
	}
	return out, nil
}

type modificationWire struct {
	IssueID    string `json:"issue_id"`
	Applied    bool   `json:"applied"`
	SceneID    string `json:"scene_id"`
	Field      string `json:"field"`
	ChangeType string `json:"change_type"`
	OldValue   any    `json:"old_value"`
	NewValue   any    `json:"new_value"`
	Reason     string `json:"reason"`
}

type modifyWire struct {
	ModifiedScript  *script.Script            `json:"modified_script"`
	ModificationLog []modificationWire        `json:"modification_log"`
	Validation      analysis.ModifyValidation `json:"validation"`
}

func decodeModify(raw string) (*analysis.ModifyOutput, []FieldError) {
	var w modifyWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, []FieldError{{Path: "$", Reason: "response is not valid JSON: " + err.Error()}}
	}
	out := &analysis.ModifyOutput{
		ModifiedScript:  w.ModifiedScript,
		ModificationLog: make([]analysis.Modification, len(w.ModificationLog)),
		Validation:      w.Validation,
	}
	for i, m := range w.ModificationLog {
		out.ModificationLog[i] = analysis.Modification{
			IssueID:    analysis.NormalizeIssueID(m.IssueID),
			Applied:    m.Applied,
			SceneID:    m.SceneID,
			Field:      m.Field,
			ChangeType: analysis.NormalizeChangeType(m.ChangeType),
			OldValue:   m.OldValue,
			NewValue:   m.NewValue,
			Reason:     m.Reason,
		}
	}
	return out, nil
}

// recountValidation recomputes the fixed/skipped tally from the log itself.
// The model's self-reported counts drift; the log is authoritative.
func recountValidation(out *analysis.ModifyOutput, original *script.Script, report *analysis.AuditReport) {
	fixed, skipped := 0, 0
	for _, m := range out.ModificationLog {
		if m.Applied {
			fixed++
		} else {
			skipped++
		}
	}

	before := make(map[string]bool)
	for _, iss := range script.SetupPayoffIssues(original) {
		before[iss.String()] = true
	}
	introduced := 0
	for _, iss := range script.SetupPayoffIssues(out.ModifiedScript) {
		if !before[iss.String()] {
			introduced++
		}
	}

	out.Validation = analysis.ModifyValidation{
		TotalIssues:         len(report.Issues),
		Fixed:               fixed,
		Skipped:             skipped,
		NewIssuesIntroduced: introduced,
	}
}
