package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefineThreadsDoesNotMutateInput(t *testing.T) {
	s := tenScenes()
	threads := []ConflictThread{
		thread("TCC_01", "Elena wants the inheritance", 0.9, "S01", "S02", "S03"),
		thread("TCC_02", "Elena seeks the inheritance", 0.7, "S01", "S02", "S03"),
	}

	before := cloneThreads(threads)
	RefineThreads(threads, s, DefaultRefineConfig())
	assert.Equal(t, before, threads)
}

// Threads restating the same conflict over the same scenes collapse into
// one, keeping the higher confidence.
func TestRefineMergesMirrorThreads(t *testing.T) {
	s := tenScenes()
	threads := []ConflictThread{
		thread("TCC_01", "Elena wants the inheritance", 0.9, "S01", "S02", "S03"),
		thread("TCC_02", "Elena seeks the inheritance", 0.7, "S01", "S02", "S03"),
	}

	res := RefineThreads(threads, s, DefaultRefineConfig())

	require.Len(t, res.Threads, 1)
	assert.Equal(t, "TCC_01", res.Threads[0].ThreadID)
	assert.Equal(t, 0.9, res.Threads[0].Confidence)
	assert.NotEmpty(t, res.Warnings)
}

func TestRefineKeepsDistinctThreads(t *testing.T) {
	s := tenScenes()
	threads := []ConflictThread{
		thread("TCC_01", "Elena wants the inheritance", 0.9, "S01", "S02", "S03"),
		thread("TCC_02", "Rhea wants a gallery posting", 0.7, "S04", "S06", "S07"),
	}

	res := RefineThreads(threads, s, DefaultRefineConfig())
	assert.Len(t, res.Threads, 2)
}

func TestRefineDropsLowCoverage(t *testing.T) {
	s := tenScenes()
	threads := []ConflictThread{
		thread("TCC_01", "Elena wants the inheritance", 0.9, "S01", "S02", "S03"),
		// 1 of 10 scenes, below the 0.15 floor.
		thread("TCC_02", "Rhea wants a gallery posting", 0.7, "S04"),
	}

	res := RefineThreads(threads, s, DefaultRefineConfig())

	require.Len(t, res.Threads, 1)
	assert.Equal(t, "TCC_01", res.Threads[0].ThreadID)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "TCC_02 dropped")
	assert.Contains(t, res.Warnings[0], "coverage")
}

// Opposite sides of one conflict (block vs get) over the same scenes merge.
func TestRefineMergesAntagonistPairs(t *testing.T) {
	s := tenScenes()
	threads := []ConflictThread{
		thread("TCC_01", "Elena must get the inheritance", 0.9, "S01", "S02", "S03"),
		thread("TCC_02", "Voss must block the inheritance", 0.8, "S01", "S02", "S03"),
	}

	res := RefineThreads(threads, s, DefaultRefineConfig())

	require.Len(t, res.Threads, 1)
	assert.Equal(t, "TCC_01", res.Threads[0].ThreadID)
}

func TestRefineMergeUnionsEvidence(t *testing.T) {
	s := tenScenes()
	threads := []ConflictThread{
		thread("TCC_01", "Elena wants the inheritance", 0.9, "S01", "S02", "S03", "S05"),
		thread("TCC_02", "Elena seeks the inheritance", 0.7, "S01", "S02", "S03", "S04"),
	}

	res := RefineThreads(threads, s, DefaultRefineConfig())

	require.Len(t, res.Threads, 1)
	assert.Equal(t, []string{"S01", "S02", "S03", "S04", "S05"}, res.Threads[0].EvidenceScenes)
}

func TestRefineFlagsUnsupportedEvidence(t *testing.T) {
	s := tenScenes()
	// S08's mission mentions the inheritance dispute; an objective about
	// something else entirely shares no vocabulary with it.
	threads := []ConflictThread{
		thread("TCC_01", "The smugglers move stolen paintings offshore", 0.9, "S01", "S02", "S03"),
	}

	res := RefineThreads(threads, s, DefaultRefineConfig())

	require.Len(t, res.Threads, 1)
	require.NotEmpty(t, res.Flags)
	for _, f := range res.Flags {
		assert.Equal(t, "TCC_01", f.ThreadID)
		assert.InDelta(t, 0.7, f.Confidence, 1e-9)
	}
	// Every evidence scene failed: a thread-level warning fires too.
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[len(res.Warnings)-1], "no evidence scene textually supports")
}

func TestLoweredConfidenceFloor(t *testing.T) {
	assert.InDelta(t, 0.7, lowered(0.9), 1e-9)
	assert.InDelta(t, 0.4, lowered(0.5), 1e-9)
	assert.InDelta(t, 0.4, lowered(0.1), 1e-9)
}
