package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/storylab/threadline/analysis"
	"github.com/storylab/threadline/script"
)

// discoverSystemPrompt instructs the model to surface conflict threads from
// the scene breakdown. Evidence must cite real scene IDs; the validator
// rejects anything else and the corrective retry quotes the rejection.
func discoverSystemPrompt() string {
	return `You are a screenplay structure analyst identifying through-lines of conflict.

## Your Objective

Read the scene breakdown and identify every sustained conflict thread: a
character (or faction) pursuing a super-objective against resistance across
multiple scenes.

## Rules

1. Each thread needs a distinct super-objective phrased as "X wants/seeks Y".
2. evidence_scenes must list real scene IDs from the input, at least two per thread.
3. conflict_type is one of: interpersonal, internal, ideological.
4. confidence is a number between 0 and 1.
5. Do not invent scenes. Do not duplicate super-objectives verbatim.
6. If dialogue-level evidence is unavailable, work from scene missions and
   key events, and say so in the metadata.

## Output Format

Respond with JSON only:

` + "```json" + `
{
  "tccs": [
    {
      "tcc_id": "TCC_01",
      "super_objective": "Mara wants to expose the forgery ring",
      "conflict_type": "interpersonal",
      "evidence_scenes": ["S01", "S04", "S09"],
      "confidence": 0.85
    }
  ],
  "metadata": {
    "total_scenes_analyzed": 42,
    "primary_evidence_available": true,
    "fallback_mode": false,
    "fallback_reason": ""
  }
}
` + "```" + `
`
}

// auditSystemPrompt asks the model for the qualitative half of the tier
// ranking: forces and reasoning. Scores and tier placement are recomputed
// deterministically afterwards, so the prompt asks for judgment, not math.
func auditSystemPrompt() string {
	return `You are a dramaturg ranking conflict threads by structural importance.

## Your Objective

Assign each thread to a tier and articulate the dramatic forces at work:

- a_line: the single spine of the story. Exactly one thread.
- b_lines: threads entangled with the spine (shared scenes, shared characters).
- c_lines: texture threads that could be cut without collapsing the plot.

## Rules

1. Exactly one a_line. Every thread appears in exactly one tier.
2. For each thread name the protagonist, primary_antagonist, and any
   dynamic_antagonist figures.
3. Give reasoning for the a_line choice: scene span, setup/payoff density,
   whether it drives the climax.
4. All scores must be non-negative numbers.

## Output Format

Respond with JSON only:

` + "```json" + `
{
  "rankings": {
    "a_line": {
      "tcc_id": "TCC_01",
      "super_objective": "Mara wants to expose the forgery ring",
      "spine_score": 24.5,
      "reasoning": {
        "scene_count": 12,
        "setup_payoff_density": 0.4,
        "drives_climax": true
      },
      "forces": {
        "protagonist": "Mara",
        "primary_antagonist": "Voss",
        "dynamic_antagonist": ["the board"]
      }
    },
    "b_lines": [
      {
        "tcc_id": "TCC_02",
        "super_objective": "...",
        "heart_score": 11.0,
        "reasoning": {"emotional_intensity": 0.7, "a_line_interaction": 0.5, "internal_conflict": true},
        "forces": {"protagonist": "...", "primary_antagonist": "..."}
      }
    ],
    "c_lines": [
      {
        "tcc_id": "TCC_03",
        "super_objective": "...",
        "flavor_score": 3.0,
        "reasoning": {"thematic_relevance": 0.4, "removable": true},
        "forces": {"protagonist": "...", "primary_antagonist": "..."}
      }
    ]
  },
  "metrics": {
    "total_scenes": 42,
    "a_line_coverage": 0.3,
    "b_line_coverage": 0.2,
    "c_line_coverage": 0.1
  }
}
` + "```" + `
`
}

// modifySystemPrompt instructs the model to repair structural issues with
// minimal, logged edits. The full-script invariants (same scene set, real
// targets, no dangling references) are restated because they are exactly
// what the validator enforces.
func modifySystemPrompt() string {
	return `You are a screenplay doctor repairing structural defects with minimal edits.

## Your Objective

Apply the listed issues' suggested fixes to the scene breakdown. Change only
what each fix requires and log every modification.

## Rules

1. Return the COMPLETE modified script: every input scene, same scene IDs,
   no scenes added or removed.
2. Each modification targets an existing scene and field.
3. change_type is one of: add, append, remove, replace.
4. setup_payoff references must point at scenes that exist.
5. If a fix cannot be applied safely, mark it applied: false with a reason.

## Output Format

Respond with JSON only:

` + "```json" + `
{
  "modified_script": {"scenes": [ ... all scenes ... ]},
  "modification_log": [
    {
      "issue_id": "ISS_001",
      "applied": true,
      "scene_id": "S04",
      "field": "setup_payoff",
      "change_type": "add",
      "old_value": null,
      "new_value": {"setup_for": ["S19"]},
      "reason": "Planted the ledger so the S19 payoff lands"
    }
  ],
  "validation": {
    "total_issues": 3,
    "fixed": 2,
    "skipped": 1,
    "new_issues_introduced": 0
  }
}
` + "```" + `
`
}

// discoverUserPrompt serializes the scene breakdown for the discover stage.
func discoverUserPrompt(s *script.Script) string {
	var sb strings.Builder
	sb.WriteString("Identify the conflict threads in the following scene breakdown.\n\n")
	sb.WriteString(fmt.Sprintf("Total scenes: %d\n\n", s.SceneCount()))
	writeJSONBlock(&sb, s)
	sb.WriteString("List every sustained conflict thread with its evidence scenes.\n")
	return sb.String()
}

// auditUserPrompt carries the surviving threads plus the scene breakdown so
// the model can judge entanglement and climax proximity.
func auditUserPrompt(s *script.Script, threads []analysis.ConflictThread) string {
	var sb strings.Builder
	sb.WriteString("Rank the following conflict threads against the scene breakdown.\n\n")
	sb.WriteString("## Threads\n\n")
	writeJSONBlock(&sb, threads)
	sb.WriteString("## Scene Breakdown\n\n")
	writeJSONBlock(&sb, s)
	sb.WriteString("Produce the tier ranking with forces and reasoning.\n")
	return sb.String()
}

// modifyUserPrompt carries the issue report and the script to repair.
func modifyUserPrompt(s *script.Script, report *analysis.AuditReport) string {
	var sb strings.Builder
	sb.WriteString("Repair the following structural issues in the scene breakdown.\n\n")
	sb.WriteString("## Issues\n\n")
	writeJSONBlock(&sb, report)
	sb.WriteString("## Scene Breakdown\n\n")
	writeJSONBlock(&sb, s)
	sb.WriteString("Return the complete modified script with a log of every change.\n")
	return sb.String()
}

// correctiveMessage builds the retry instruction embedding the previous
// attempt's specific failures so the next attempt can converge.
func correctiveMessage(err error, fieldErrs []FieldError) string {
	var sb strings.Builder
	sb.WriteString("Your previous response was rejected.\n\n")
	if len(fieldErrs) > 0 {
		sb.WriteString("Validation errors:\n")
		sb.WriteString(formatFieldErrors(fieldErrs))
		sb.WriteString("\n\n")
	} else if err != nil {
		sb.WriteString(fmt.Sprintf("Error: %s\n\n", err.Error()))
	}
	sb.WriteString("Correct these specific problems and respond again with ONLY the JSON object, no surrounding prose.\n")
	return sb.String()
}

func writeJSONBlock(sb *strings.Builder, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		sb.WriteString("(error formatting input)\n\n")
		return
	}
	sb.WriteString("```json\n")
	sb.Write(data)
	sb.WriteString("\n```\n\n")
}
