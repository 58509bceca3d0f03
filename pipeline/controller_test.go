package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storylab/threadline/analysis"
	"github.com/storylab/threadline/cache"
	"github.com/storylab/threadline/config"
	"github.com/storylab/threadline/llm"
	"github.com/storylab/threadline/script"
)

// scriptedCompleter plays back canned responses per call, standing in for
// the generation service.
type scriptedCompleter struct {
	mu      sync.Mutex
	calls   int
	respond func(call int, req llm.Request) (*llm.Response, error)
}

func (m *scriptedCompleter) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()
	return m.respond(n, req)
}

func (m *scriptedCompleter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// jsonResponse wraps a value in the fenced-markdown shape models produce,
// so every test also exercises extraction.
func jsonResponse(v any) (*llm.Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &llm.Response{
		Content: "Here is the analysis:\n```json\n" + string(data) + "\n```\nLet me know if you need anything else.",
	}, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Retry.BackoffBase = time.Millisecond
	cfg.Retry.MaxBackoff = 2 * time.Millisecond
	cfg.Cache.Enabled = false
	return cfg
}

// cleanScript builds ten scenes with one intact setup/payoff pair.
func cleanScript() *script.Script {
	s := &script.Script{}
	for i := 1; i <= 10; i++ {
		s.Scenes = append(s.Scenes, script.Scene{
			SceneID:      fmt.Sprintf("S%02d", i),
			Setting:      "INT. GALLERY - NIGHT",
			Characters:   []string{"ELENA", "VOSS"},
			SceneMission: fmt.Sprintf("Advance the inheritance dispute, beat %d", i),
		})
	}
	s.Scenes[0].SetupPayoff.SetupFor = []string{"S05"}
	s.Scenes[4].SetupPayoff.PayoffFrom = []string{"S01"}
	return s
}

// brokenScript has a setup in S01 that S05 never reciprocates.
func brokenScript() *script.Script {
	s := cleanScript()
	s.Scenes[4].SetupPayoff.PayoffFrom = nil
	return s
}

func discoverPayload() map[string]any {
	return map[string]any{
		"tccs": []map[string]any{
			{
				"tcc_id":          "TCC_01",
				"super_objective": "Elena wants the inheritance",
				"conflict_type":   "interpersonal",
				"evidence_scenes": []string{"S01", "S02", "S03", "S10"},
				"confidence":      0.9,
			},
			{
				"tcc_id":          "TCC_02",
				"super_objective": "Voss wants control of the gallery",
				"conflict_type":   "relational",
				"evidence_scenes": []string{"S01", "S02", "S04"},
				"confidence":      0.8,
			},
		},
		"metadata": map[string]any{
			"total_scenes_analyzed":      10,
			"primary_evidence_available": true,
		},
	}
}

func auditPayload() map[string]any {
	return map[string]any{
		"rankings": map[string]any{
			"a_line": map[string]any{
				"tcc_id":          "TCC_01",
				"super_objective": "Elena wants the inheritance",
				"spine_score":     20.0,
				"reasoning": map[string]any{
					"scene_count":          4,
					"setup_payoff_density": 0.25,
					"drives_climax":        true,
				},
				"forces": map[string]any{
					"protagonist":        "Elena",
					"primary_antagonist": "Voss",
					// A bare string where a list is expected.
					"dynamic_antagonist": "the board",
				},
			},
			"b_lines": []map[string]any{
				{
					"tcc_id":          "TCC_02",
					"super_objective": "Voss wants control of the gallery",
					"heart_score":     6.0,
					"reasoning": map[string]any{
						"emotional_intensity": 0.5,
						"a_line_interaction":  0.66,
						"internal_conflict":   false,
					},
					"forces": map[string]any{
						"protagonist":        "Voss",
						"primary_antagonist": "Elena",
					},
				},
			},
			"c_lines": []map[string]any{},
		},
		"metrics": map[string]any{"total_scenes": 10},
	}
}

// modifyPayload repairs the broken reciprocal link in brokenScript.
func modifyPayload(t *testing.T) map[string]any {
	t.Helper()
	fixed := brokenScript().Clone()
	fixed.Scenes[4].SetupPayoff.PayoffFrom = []string{"S01"}

	data, err := json.Marshal(fixed)
	require.NoError(t, err)
	var rawScript map[string]any
	require.NoError(t, json.Unmarshal(data, &rawScript))

	return map[string]any{
		"modified_script": rawScript,
		"modification_log": []map[string]any{
			{
				"issue_id":    "ISS_001_fix",
				"applied":     true,
				"scene_id":    "S05",
				"field":       "setup_payoff",
				"change_type": "add_entry",
				"new_value":   map[string]any{"payoff_from": []string{"S01"}},
				"reason":      "Reciprocated the S01 setup",
			},
		},
		// Deliberately wrong; the controller recounts from the log.
		"validation": map[string]any{"total_issues": 99, "fixed": 0},
	}
}

func TestRunCleanScriptSkipsModify(t *testing.T) {
	mock := &scriptedCompleter{respond: func(call int, req llm.Request) (*llm.Response, error) {
		switch call {
		case 1:
			return jsonResponse(discoverPayload())
		case 2:
			return jsonResponse(auditPayload())
		}
		return nil, fmt.Errorf("unexpected call %d", call)
	}}

	ctrl := New(mock, testConfig())
	result, err := ctrl.Run(context.Background(), cleanScript())
	require.NoError(t, err)

	// Clean script: discover and audit invoke the model, modify does not.
	assert.Equal(t, 2, mock.callCount())
	assert.True(t, result.Complete())
	assert.False(t, result.FromCache)
	assert.Equal(t, StatusSkipped, result.Stages[StageModify].Status)
	assert.Empty(t, result.Modify.ModificationLog)
	assert.Equal(t, cleanScript(), result.Modify.ModifiedScript)
}

func TestRunAuditIsDeterministic(t *testing.T) {
	mock := &scriptedCompleter{respond: func(call int, req llm.Request) (*llm.Response, error) {
		switch call {
		case 1:
			return jsonResponse(discoverPayload())
		case 2:
			return jsonResponse(auditPayload())
		}
		return nil, fmt.Errorf("unexpected call %d", call)
	}}

	ctrl := New(mock, testConfig())
	result, err := ctrl.Run(context.Background(), cleanScript())
	require.NoError(t, err)

	r := result.Audit.Rankings
	assert.Equal(t, "TCC_01", r.ALine.ThreadID)

	// Scores come from the deterministic scorer, not the model's numbers.
	// TCC_01: 4 scenes x 2 + density 0.25 x 1.5 + climax bonus 10.
	assert.InDelta(t, 18.375, r.ALine.SpineScore, 1e-9)
	assert.True(t, r.ALine.Reasoning.DrivesClimax)

	require.Len(t, r.BLines, 1)
	assert.Equal(t, "TCC_02", r.BLines[0].ThreadID)

	// The model's qualitative forces are preserved, including the coerced
	// single-string antagonist list.
	assert.Equal(t, "Elena", r.ALine.Forces.Protagonist)
	assert.Equal(t, []string{"the board"}, r.ALine.Forces.DynamicAntagonists)
	assert.Equal(t, "Voss", r.BLines[0].Forces.Protagonist)

	assert.Equal(t, 10, result.Audit.Metrics.TotalScenes)
}

func TestRunRepairsBrokenSetupPayoff(t *testing.T) {
	mock := &scriptedCompleter{respond: func(call int, req llm.Request) (*llm.Response, error) {
		switch call {
		case 1:
			return jsonResponse(discoverPayload())
		case 2:
			return jsonResponse(auditPayload())
		case 3:
			return jsonResponse(modifyPayload(t))
		}
		return nil, fmt.Errorf("unexpected call %d", call)
	}}

	ctrl := New(mock, testConfig())
	result, err := ctrl.Run(context.Background(), brokenScript())
	require.NoError(t, err)

	assert.Equal(t, 3, mock.callCount())
	require.NotNil(t, result.Modify)

	// The repaired script carries the reciprocal link.
	assert.Empty(t, script.SetupPayoffIssues(result.Modify.ModifiedScript))

	// Log normalization: decorated issue ID and loose change type.
	require.Len(t, result.Modify.ModificationLog, 1)
	m := result.Modify.ModificationLog[0]
	assert.Equal(t, "ISS_001", m.IssueID)
	assert.Equal(t, analysis.ChangeAdd, m.ChangeType)

	// Counts are recomputed from the log, not trusted from the model.
	assert.Equal(t, analysis.ModifyValidation{
		TotalIssues: 1, Fixed: 1, Skipped: 0, NewIssuesIntroduced: 0,
	}, result.Modify.Validation)
}

// A modify stage that keeps producing invalid output exhausts its retries;
// the run still returns discover and audit results, and the caller's script
// is untouched.
func TestRunModifyFailureIsPartialSuccess(t *testing.T) {
	truncated := brokenScript().Clone()
	truncated.Scenes = truncated.Scenes[:9] // drops S10

	mock := &scriptedCompleter{respond: func(call int, req llm.Request) (*llm.Response, error) {
		switch call {
		case 1:
			return jsonResponse(discoverPayload())
		case 2:
			return jsonResponse(auditPayload())
		}
		return jsonResponse(map[string]any{
			"modified_script":  truncated,
			"modification_log": []map[string]any{},
			"validation":       map[string]any{},
		})
	}}

	input := brokenScript()
	pristine := input.Clone()

	ctrl := New(mock, testConfig())
	result, err := ctrl.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 5, mock.callCount()) // 1 discover + 1 audit + 3 modify attempts
	assert.NotNil(t, result.Discover)
	assert.NotNil(t, result.Audit)
	assert.Nil(t, result.Modify)
	assert.False(t, result.Complete())
	assert.Equal(t, StatusFailed, result.Stages[StageModify].Status)
	assert.Equal(t, 2, result.Stages[StageModify].Retries)
	assert.NotEmpty(t, result.Diagnostics)

	// The input script is never mutated, even by a failing run.
	assert.Equal(t, pristine, input)
}

func TestRunDiscoverRetriesOnGarbage(t *testing.T) {
	mock := &scriptedCompleter{respond: func(call int, req llm.Request) (*llm.Response, error) {
		switch call {
		case 1:
			return &llm.Response{Content: "I could not find any conflicts, sorry!"}, nil
		case 2:
			return jsonResponse(discoverPayload())
		case 3:
			return jsonResponse(auditPayload())
		}
		return nil, fmt.Errorf("unexpected call %d", call)
	}}

	ctrl := New(mock, testConfig())
	result, err := ctrl.Run(context.Background(), cleanScript())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Stages[StageDiscover].Calls)
	assert.Equal(t, 1, result.Stages[StageDiscover].Retries)
	assert.Equal(t, StatusDone, result.Stages[StageDiscover].Status)
}

// The corrective retry message carries the validator's specific rejections.
func TestRunRetryCarriesValidationErrors(t *testing.T) {
	var retryPrompt string
	bad := discoverPayload()
	bad["tccs"].([]map[string]any)[0]["evidence_scenes"] = []string{"S01", "S99"}

	mock := &scriptedCompleter{respond: func(call int, req llm.Request) (*llm.Response, error) {
		switch call {
		case 1:
			return jsonResponse(bad)
		case 2:
			retryPrompt = req.Messages[len(req.Messages)-1].Content
			return jsonResponse(discoverPayload())
		case 3:
			return jsonResponse(auditPayload())
		}
		return nil, fmt.Errorf("unexpected call %d", call)
	}}

	ctrl := New(mock, testConfig())
	_, err := ctrl.Run(context.Background(), cleanScript())
	require.NoError(t, err)

	assert.Contains(t, retryPrompt, "rejected")
	assert.Contains(t, retryPrompt, `"S99" does not exist`)
}

// A discover stage that exhausts its retries still hands back the run's
// bookkeeping: per-stage statuses, attempt counters, and the accumulated
// error strings, with the failed stage's output nil.
func TestRunDiscoverFailureReturnsStructuredResult(t *testing.T) {
	mock := &scriptedCompleter{respond: func(call int, req llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "I could not find any conflicts, sorry!"}, nil
	}}

	ctrl := New(mock, testConfig())
	result, err := ctrl.Run(context.Background(), cleanScript())

	require.Error(t, err)
	require.NotNil(t, result)

	assert.Nil(t, result.Discover)
	assert.Nil(t, result.Audit)
	assert.False(t, result.Complete())

	ds := result.Stages[StageDiscover]
	require.NotNil(t, ds)
	assert.Equal(t, StatusFailed, ds.Status)
	assert.Equal(t, 3, ds.Calls)
	assert.Equal(t, 2, ds.Retries)
	assert.NotEmpty(t, ds.Errors)

	found := false
	for _, d := range result.Diagnostics {
		if strings.Contains(d, "discover stage failed") {
			found = true
		}
	}
	assert.True(t, found, "expected a discover failure diagnostic, got %v", result.Diagnostics)
}

func TestRunDiscoverFatalStopsImmediately(t *testing.T) {
	mock := &scriptedCompleter{respond: func(call int, req llm.Request) (*llm.Response, error) {
		return nil, llm.NewFatalError(fmt.Errorf("invalid api key"))
	}}

	ctrl := New(mock, testConfig())
	result, err := ctrl.Run(context.Background(), cleanScript())

	require.Error(t, err)
	assert.Equal(t, 1, mock.callCount())
	assert.Contains(t, err.Error(), "discover")

	require.NotNil(t, result)
	assert.Equal(t, StatusFailed, result.Stages[StageDiscover].Status)
	assert.Equal(t, StatusPending, result.Stages[StageAudit].Status)
}

func TestRunCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mock := &scriptedCompleter{respond: func(call int, req llm.Request) (*llm.Response, error) {
		cancel()
		return nil, llm.NewTransientError(fmt.Errorf("connection reset"))
	}}

	cfg := testConfig()
	cfg.Retry.BackoffBase = 50 * time.Millisecond

	ctrl := New(mock, cfg)
	result, err := ctrl.Run(ctx, cleanScript())

	require.Error(t, err)
	assert.Equal(t, 1, mock.callCount())
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, StatusFailed, result.Stages[StageDiscover].Status)
}

func TestRunInvalidScriptRejectedBeforeAnyCall(t *testing.T) {
	mock := &scriptedCompleter{respond: func(call int, req llm.Request) (*llm.Response, error) {
		return nil, fmt.Errorf("should not be called")
	}}

	ctrl := New(mock, testConfig())
	_, err := ctrl.Run(context.Background(), &script.Script{})

	require.Error(t, err)
	assert.Zero(t, mock.callCount())
}

// A second run over the same script and model serves the cached result
// without any generation calls.
func TestRunSecondRunServedFromCache(t *testing.T) {
	mock := &scriptedCompleter{respond: func(call int, req llm.Request) (*llm.Response, error) {
		switch call {
		case 1:
			return jsonResponse(discoverPayload())
		case 2:
			return jsonResponse(auditPayload())
		}
		return nil, fmt.Errorf("unexpected call %d", call)
	}}

	rc := cache.New(cache.NewMemoryStore(), time.Hour, nil)
	defer rc.Close()

	ctrl := New(mock, testConfig(), WithResultCache(rc))

	first, err := ctrl.Run(context.Background(), cleanScript())
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, 2, mock.callCount())

	second, err := ctrl.Run(context.Background(), cleanScript())
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 2, mock.callCount()) // no new generation calls
	assert.Equal(t, first.Discover, second.Discover)
	assert.Equal(t, first.Audit, second.Audit)
}

// A failed run must not poison the cache.
func TestRunPartialResultIsNotCached(t *testing.T) {
	truncated := brokenScript().Clone()
	truncated.Scenes = truncated.Scenes[:9]

	mock := &scriptedCompleter{respond: func(call int, req llm.Request) (*llm.Response, error) {
		switch call {
		case 1:
			return jsonResponse(discoverPayload())
		case 2:
			return jsonResponse(auditPayload())
		}
		return jsonResponse(map[string]any{
			"modified_script":  truncated,
			"modification_log": []map[string]any{},
			"validation":       map[string]any{},
		})
	}}

	store := cache.NewMemoryStore()
	rc := cache.New(store, time.Hour, nil)
	defer rc.Close()

	ctrl := New(mock, testConfig(), WithResultCache(rc))
	result, err := ctrl.Run(context.Background(), brokenScript())
	require.NoError(t, err)
	require.Nil(t, result.Modify)

	entries, err := store.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, entries)
}

// Mirror threads in the model output are merged before audit; the audit
// stage sees only surviving threads.
func TestRunRefinementMergesBeforeAudit(t *testing.T) {
	mirrored := discoverPayload()
	mirrored["tccs"] = []map[string]any{
		{
			"tcc_id":          "TCC_01",
			"super_objective": "Elena wants the inheritance",
			"conflict_type":   "interpersonal",
			"evidence_scenes": []string{"S01", "S02", "S03"},
			"confidence":      0.9,
		},
		{
			"tcc_id":          "TCC_02",
			"super_objective": "Elena seeks the inheritance",
			"conflict_type":   "interpersonal",
			"evidence_scenes": []string{"S01", "S02", "S03"},
			"confidence":      0.7,
		},
	}
	soloAudit := map[string]any{
		"rankings": map[string]any{
			"a_line": map[string]any{
				"tcc_id":          "TCC_01",
				"super_objective": "Elena wants the inheritance",
				"spine_score":     10.0,
				"forces":          map[string]any{"protagonist": "Elena", "primary_antagonist": "Voss"},
			},
		},
		"metrics": map[string]any{"total_scenes": 10},
	}

	var auditPrompt string
	mock := &scriptedCompleter{respond: func(call int, req llm.Request) (*llm.Response, error) {
		switch call {
		case 1:
			return jsonResponse(mirrored)
		case 2:
			auditPrompt = req.Messages[1].Content
			return jsonResponse(soloAudit)
		}
		return nil, fmt.Errorf("unexpected call %d", call)
	}}

	ctrl := New(mock, testConfig())
	result, err := ctrl.Run(context.Background(), cleanScript())
	require.NoError(t, err)

	require.Len(t, result.Discover.Threads, 1)
	assert.Equal(t, "TCC_01", result.Discover.Threads[0].ThreadID)
	assert.NotContains(t, auditPrompt, "TCC_02")

	found := false
	for _, d := range result.Diagnostics {
		if strings.Contains(d, "merged") && strings.Contains(d, "TCC_02") {
			found = true
		}
	}
	assert.True(t, found, "expected a merge diagnostic, got %v", result.Diagnostics)
}
