package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/storylab/threadline/analysis"
)

// Stage identifies a pipeline phase.
type Stage string

const (
	StageDiscover Stage = "discover"
	StageAudit    Stage = "audit"
	StageModify   Stage = "modify"
)

// StageStatus tracks where a stage is in its lifecycle.
type StageStatus string

const (
	StatusPending    StageStatus = "pending"
	StatusInvoking   StageStatus = "invoking"
	StatusValidating StageStatus = "validating"
	StatusRetrying   StageStatus = "retrying"
	StatusDone       StageStatus = "done"
	StatusFailed     StageStatus = "failed"
	StatusSkipped    StageStatus = "skipped"
)

// StageState is the per-stage slice of a run's bookkeeping.
type StageState struct {
	Status   StageStatus   `json:"status"`
	Calls    int           `json:"calls"`
	Retries  int           `json:"retries"`
	Duration time.Duration `json:"duration"`
	Errors   []string      `json:"errors,omitempty"`
}

// RunState accumulates everything a run produces: stage outputs, retry
// counters, and diagnostics. It is mutated by exactly one goroutine.
type RunState struct {
	RunID     string
	StartedAt time.Time

	Discover *analysis.DiscoverOutput
	Audit    *analysis.AuditOutput
	Modify   *analysis.ModifyOutput

	Stages      map[Stage]*StageState
	Diagnostics []string
}

func newRunState() *RunState {
	return &RunState{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Stages: map[Stage]*StageState{
			StageDiscover: {Status: StatusPending},
			StageAudit:    {Status: StatusPending},
			StageModify:   {Status: StatusPending},
		},
	}
}

func (s *RunState) stage(st Stage) *StageState {
	return s.Stages[st]
}

func (s *RunState) diagnose(format string, args ...any) {
	s.Diagnostics = append(s.Diagnostics, fmt.Sprintf(format, args...))
}

// RunResult is what a completed (or partially completed) run hands back.
// Modify may be nil when the modify stage exhausted its retries: discover
// and audit results remain valid on their own.
type RunResult struct {
	RunID       string                   `json:"run_id"`
	Discover    *analysis.DiscoverOutput `json:"discover"`
	Audit       *analysis.AuditOutput    `json:"audit"`
	Modify      *analysis.ModifyOutput   `json:"modify,omitempty"`
	Diagnostics []string                 `json:"diagnostics,omitempty"`
	FromCache   bool                     `json:"from_cache"`
	Stages      map[Stage]*StageState    `json:"stages,omitempty"`
	Elapsed     time.Duration            `json:"elapsed"`
}

// Complete reports whether all three stages produced output.
func (r *RunResult) Complete() bool {
	return r.Discover != nil && r.Audit != nil && r.Modify != nil
}
