// Package script defines the screenplay data model consumed by the analysis
// pipeline. A Script arrives fully parsed; ingestion of raw screenplay text
// happens upstream and is not this package's concern.
package script

import (
	"fmt"
	"regexp"
)

// sceneIDPattern matches scene identifiers like S01, S112, or S05b.
// The optional lowercase suffix disambiguates duplicate numbering in the
// source material.
var sceneIDPattern = regexp.MustCompile(`^S\d{2,3}[a-z]?$`)

// minMissionLength is the minimum length for a scene mission description.
const minMissionLength = 10

// InfoChange records a character learning a fact within a scene.
type InfoChange struct {
	// Character is the character who learns something.
	Character string `json:"character"`

	// Learned is the fact acquired.
	Learned string `json:"learned"`
}

// RelationChange records a shift in the relationship between two characters.
type RelationChange struct {
	// Chars is the character pair, exactly two names.
	Chars []string `json:"chars"`

	// From is the prior relationship state.
	From string `json:"from"`

	// To is the new relationship state.
	To string `json:"to"`
}

// KeyObject is a significant prop and its status within a scene.
type KeyObject struct {
	Object string `json:"object"`
	Status string `json:"status"`
}

// SetupPayoff holds the causal links between scenes: scenes this one plants
// an element for, and scenes whose planted elements this one resolves.
type SetupPayoff struct {
	SetupFor   []string `json:"setup_for,omitempty"`
	PayoffFrom []string `json:"payoff_from,omitempty"`
}

// PerformanceNote is an acting direction attached to a character's line.
type PerformanceNote struct {
	// Character is the character the note applies to.
	Character string `json:"character"`

	// Note is the direction text (e.g. "whispering", "trembling").
	Note string `json:"note"`

	// LineContext is the dialogue fragment the note accompanies.
	LineContext string `json:"line_context,omitempty"`
}

// Scene is a single scene in the script.
type Scene struct {
	// SceneID uniquely identifies the scene (S01, S112, S05b).
	SceneID string `json:"scene_id"`

	// Setting is the location/time slug line.
	Setting string `json:"setting"`

	// Characters are the names appearing in the scene.
	Characters []string `json:"characters"`

	// SceneMission is what the scene accomplishes dramatically.
	SceneMission string `json:"scene_mission"`

	// KeyEvents are the notable beats, in order.
	KeyEvents []string `json:"key_events,omitempty"`

	// InfoChanges record facts characters learn here.
	InfoChanges []InfoChange `json:"info_change,omitempty"`

	// RelationChanges record relationship shifts here.
	RelationChanges []RelationChange `json:"relation_change,omitempty"`

	// KeyObjects are significant props and their status.
	KeyObjects []KeyObject `json:"key_object,omitempty"`

	// SetupPayoff links this scene causally to others.
	SetupPayoff SetupPayoff `json:"setup_payoff"`

	// PerformanceNotes are acting directions, secondary evidence for
	// emotional conflict threads.
	PerformanceNotes []PerformanceNote `json:"performance_notes,omitempty"`

	// VisualActions are wordless action descriptions.
	VisualActions []string `json:"visual_actions,omitempty"`
}

// HasSetupPayoff reports whether the scene participates in any causal link.
func (s *Scene) HasSetupPayoff() bool {
	return len(s.SetupPayoff.SetupFor) > 0 || len(s.SetupPayoff.PayoffFrom) > 0
}

// Script is an ordered sequence of scenes. It is immutable once handed to a
// pipeline run; stages that alter it produce a new Script.
type Script struct {
	Scenes []Scene `json:"scenes"`
}

// SceneCount returns the number of scenes.
func (s *Script) SceneCount() int {
	return len(s.Scenes)
}

// SceneIDs returns all scene identifiers in script order.
func (s *Script) SceneIDs() []string {
	ids := make([]string, len(s.Scenes))
	for i := range s.Scenes {
		ids[i] = s.Scenes[i].SceneID
	}
	return ids
}

// Index builds a scene lookup keyed by scene ID.
func (s *Script) Index() map[string]*Scene {
	idx := make(map[string]*Scene, len(s.Scenes))
	for i := range s.Scenes {
		idx[s.Scenes[i].SceneID] = &s.Scenes[i]
	}
	return idx
}

// ScenePosition returns the zero-based position of a scene ID in script
// order, or -1 if absent.
func (s *Script) ScenePosition(sceneID string) int {
	for i := range s.Scenes {
		if s.Scenes[i].SceneID == sceneID {
			return i
		}
	}
	return -1
}

// ValidSceneID reports whether id matches the scene identifier pattern.
func ValidSceneID(id string) bool {
	return sceneIDPattern.MatchString(id)
}

// Validate checks structural invariants: non-empty scene list, well-formed
// unique scene IDs, minimum mission length, and two-character relation pairs.
func (s *Script) Validate() error {
	if len(s.Scenes) == 0 {
		return fmt.Errorf("script has no scenes")
	}

	seen := make(map[string]bool, len(s.Scenes))
	for i := range s.Scenes {
		sc := &s.Scenes[i]
		if !ValidSceneID(sc.SceneID) {
			return fmt.Errorf("scene %d: invalid scene id %q", i, sc.SceneID)
		}
		if seen[sc.SceneID] {
			return fmt.Errorf("duplicate scene id %s", sc.SceneID)
		}
		seen[sc.SceneID] = true

		if len(sc.SceneMission) < minMissionLength {
			return fmt.Errorf("scene %s: mission too short (min %d chars)", sc.SceneID, minMissionLength)
		}
		if len(sc.Characters) == 0 {
			return fmt.Errorf("scene %s: no characters", sc.SceneID)
		}
		for _, rc := range sc.RelationChanges {
			if len(rc.Chars) != 2 {
				return fmt.Errorf("scene %s: relation change needs exactly two characters, got %d", sc.SceneID, len(rc.Chars))
			}
		}
	}

	return nil
}

// Clone returns a deep copy of the script. Stage post-processing operates on
// copies so the caller's input is never mutated.
func (s *Script) Clone() *Script {
	out := &Script{Scenes: make([]Scene, len(s.Scenes))}
	for i := range s.Scenes {
		sc := s.Scenes[i]
		sc.Characters = append([]string(nil), sc.Characters...)
		sc.KeyEvents = append([]string(nil), sc.KeyEvents...)
		sc.VisualActions = append([]string(nil), sc.VisualActions...)
		sc.InfoChanges = append([]InfoChange(nil), sc.InfoChanges...)
		sc.KeyObjects = append([]KeyObject(nil), sc.KeyObjects...)
		sc.PerformanceNotes = append([]PerformanceNote(nil), sc.PerformanceNotes...)
		sc.SetupPayoff.SetupFor = append([]string(nil), sc.SetupPayoff.SetupFor...)
		sc.SetupPayoff.PayoffFrom = append([]string(nil), sc.SetupPayoff.PayoffFrom...)
		if sc.RelationChanges != nil {
			rcs := make([]RelationChange, len(sc.RelationChanges))
			for j, rc := range sc.RelationChanges {
				rc.Chars = append([]string(nil), rc.Chars...)
				rcs[j] = rc
			}
			sc.RelationChanges = rcs
		}
		out.Scenes[i] = sc
	}
	return out
}
