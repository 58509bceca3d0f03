package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/storylab/threadline/analysis"
	"github.com/storylab/threadline/cache"
	"github.com/storylab/threadline/config"
	"github.com/storylab/threadline/llm"
	"github.com/storylab/threadline/script"
)

// Controller sequences the three stages over one script. A Controller is
// safe for concurrent Run calls; per-run state lives in RunState.
type Controller struct {
	completer llm.Completer
	cfg       *config.Config
	scorer    *analysis.Scorer
	results   *cache.ResultCache
	logger    *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithResultCache attaches a result cache. Without one every run invokes
// the generation service.
func WithResultCache(rc *cache.ResultCache) Option {
	return func(c *Controller) { c.results = rc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// New creates a Controller. The scorer inherits the audit thresholds from
// cfg so ranking arithmetic and validation agree.
func New(completer llm.Completer, cfg *config.Config, opts ...Option) *Controller {
	scorer := analysis.NewScorer()
	scorer.ClimaxFraction = cfg.Audit.ClimaxFraction
	scorer.BLineOverlapMin = cfg.Audit.BLineOverlapMin

	c := &Controller{
		completer: completer,
		cfg:       cfg,
		scorer:    scorer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes discover, audit, and modify over the script. A stage that
// fails terminally never discards the run's bookkeeping: discover and audit
// failures return a RunResult carrying the per-stage statuses, attempt
// counters, and diagnostics alongside the error, with the failed stage's
// output nil. A modify failure degrades further to a plain partial success,
// because discover and audit results are valid on their own and the input
// script is never mutated. Only complete results are cached.
func (c *Controller) Run(ctx context.Context, s *script.Script) (*RunResult, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("input script: %w", err)
	}

	key := cache.Key(cache.HashScript(s), c.cfg.Model.Provider, c.cfg.Model.Name)
	if c.results != nil {
		if rec, ok := c.results.Get(ctx, key); ok {
			c.logger.Info("serving cached analysis", "provider", rec.Provider, "model", rec.Model)
			return &RunResult{
				RunID:     rec.ScriptIdentifier,
				Discover:  rec.Discover,
				Audit:     rec.Audit,
				Modify:    rec.Modify,
				FromCache: true,
			}, nil
		}
	}

	state := newRunState()
	c.logger.Info("starting analysis run",
		"run_id", state.RunID,
		"scenes", s.SceneCount(),
		"provider", c.cfg.Model.Provider,
		"model", c.cfg.Model.Name)

	if err := c.runDiscover(ctx, state, s); err != nil {
		state.diagnose("discover stage failed: %v", err)
		return assemble(state), err
	}
	if err := c.runAudit(ctx, state, s); err != nil {
		state.diagnose("audit stage failed: %v", err)
		return assemble(state), err
	}
	if err := c.runModify(ctx, state, s); err != nil {
		state.diagnose("modify stage failed, returning discover and audit results only: %v", err)
		c.logger.Warn("modify stage failed, partial result", "run_id", state.RunID, "error", err)
	}

	result := assemble(state)

	if c.results != nil && result.Complete() {
		rec := &cache.Record{
			ContentHash:      cache.HashScript(s),
			Provider:         c.cfg.Model.Provider,
			Model:            c.cfg.Model.Name,
			ScriptIdentifier: state.RunID,
			Discover:         state.Discover,
			Audit:            state.Audit,
			Modify:           state.Modify,
		}
		if err := c.results.Put(ctx, rec); err != nil {
			// A cache write failure never fails the run.
			c.logger.Warn("failed to cache analysis result", "run_id", state.RunID, "error", err)
		}
	}

	return result, nil
}

// assemble builds the RunResult from the run's state. Failed runs get one
// too, so stage bookkeeping and diagnostics survive any failure.
func assemble(state *RunState) *RunResult {
	return &RunResult{
		RunID:       state.RunID,
		Discover:    state.Discover,
		Audit:       state.Audit,
		Modify:      state.Modify,
		Diagnostics: state.Diagnostics,
		Stages:      state.Stages,
		Elapsed:     time.Since(state.StartedAt),
	}
}

// runDiscover invokes the discovery stage and applies thread refinement.
// Refinement is arithmetic over the validated output, so its failures are
// not retried against the model.
func (c *Controller) runDiscover(ctx context.Context, state *RunState, s *script.Script) error {
	out, err := runStage(ctx, c, state, StageDiscover,
		discoverSystemPrompt(), discoverUserPrompt(s),
		func(raw string) (*analysis.DiscoverOutput, []FieldError) {
			out, errs := decodeDiscover(raw)
			if len(errs) > 0 {
				return nil, errs
			}
			return out, validateDiscover(out, s)
		})
	if err != nil {
		return err
	}

	refined := analysis.RefineThreads(out.Threads, s, analysis.RefineConfig{
		MinCoverage:       c.cfg.Refine.MinCoverage,
		MirrorOverlap:     c.cfg.Refine.MirrorOverlap,
		MinKeywordOverlap: c.cfg.Refine.MinKeywordOverlap,
	})
	for _, w := range refined.Warnings {
		state.diagnose("refine: %s", w)
	}
	for _, f := range refined.Flags {
		state.diagnose("evidence flag: thread %s scene %s: %s", f.ThreadID, f.SceneID, f.Reason)
	}

	if len(refined.Threads) == 0 {
		state.stage(StageDiscover).Status = StatusFailed
		return &stageError{
			Stage:    StageDiscover,
			Attempts: state.stage(StageDiscover).Calls,
			Outcome: fatal(&BusinessRuleError{
				Rule:   "min_coverage",
				Detail: "no conflict thread survived coverage filtering",
			}),
		}
	}

	out.Threads = refined.Threads
	out.Metadata.TotalScenesAnalyzed = s.SceneCount()
	state.Discover = out
	return nil
}

// runAudit invokes the audit stage for qualitative judgment, then replaces
// the model's scores and tier placement with the deterministic ranking.
// Two runs over the same script and thread set therefore produce identical
// tiers regardless of model variance.
func (c *Controller) runAudit(ctx context.Context, state *RunState, s *script.Script) error {
	threads := state.Discover.Threads

	modelOut, err := runStage(ctx, c, state, StageAudit,
		auditSystemPrompt(), auditUserPrompt(s, threads),
		func(raw string) (*analysis.AuditOutput, []FieldError) {
			out, errs := decodeAudit(raw)
			if len(errs) > 0 {
				return nil, errs
			}
			return out, validateAudit(out, threads, c.cfg.Audit.BLineOverlapMin)
		})
	if err != nil {
		return err
	}

	ranking := c.scorer.Rank(threads, s)
	mergeForces(ranking, modelOut)

	state.Audit = &analysis.AuditOutput{
		Rankings: *ranking,
		Metrics:  c.scorer.CoverageMetrics(threads, ranking, s),
	}
	if ranking.ALine.ThreadID != modelOut.Rankings.ALine.ThreadID {
		state.diagnose("audit: model proposed %s as a_line, deterministic ranking selected %s",
			modelOut.Rankings.ALine.ThreadID, ranking.ALine.ThreadID)
	}
	return nil
}

// runModify audits the script's causal links and asks the model to repair
// them. With nothing to repair the stage is skipped and an empty log is
// synthesized, so downstream consumers always see a modify output.
func (c *Controller) runModify(ctx context.Context, state *RunState, s *script.Script) error {
	report := buildAuditReport(s)
	if len(report.Issues) == 0 {
		state.stage(StageModify).Status = StatusSkipped
		state.Modify = &analysis.ModifyOutput{
			ModifiedScript:  s.Clone(),
			ModificationLog: []analysis.Modification{},
			Validation:      analysis.ModifyValidation{},
		}
		state.diagnose("modify: no structural issues found, script unchanged")
		return nil
	}

	out, err := runStage(ctx, c, state, StageModify,
		modifySystemPrompt(), modifyUserPrompt(s, report),
		func(raw string) (*analysis.ModifyOutput, []FieldError) {
			out, errs := decodeModify(raw)
			if len(errs) > 0 {
				return nil, errs
			}
			return out, validateModify(out, s, report)
		})
	if err != nil {
		return err
	}

	recountValidation(out, s, report)
	state.Modify = out
	return nil
}

// mergeForces copies the model's qualitative fields onto the deterministic
// ranking, matching threads by ID across tiers.
func mergeForces(ranking *analysis.TierRanking, modelOut *analysis.AuditOutput) {
	forces := make(map[string]analysis.Forces)
	collect := func(id string, f analysis.Forces) {
		if id != "" {
			forces[id] = f
		}
	}
	collect(modelOut.Rankings.ALine.ThreadID, modelOut.Rankings.ALine.Forces)
	for _, b := range modelOut.Rankings.BLines {
		collect(b.ThreadID, b.Forces)
	}
	for _, c := range modelOut.Rankings.CLines {
		collect(c.ThreadID, c.Forces)
	}

	if f, ok := forces[ranking.ALine.ThreadID]; ok {
		ranking.ALine.Forces = f
	}
	for i := range ranking.BLines {
		if f, ok := forces[ranking.BLines[i].ThreadID]; ok {
			ranking.BLines[i].Forces = f
		}
	}
	for i := range ranking.CLines {
		if f, ok := forces[ranking.CLines[i].ThreadID]; ok {
			ranking.CLines[i].Forces = f
		}
	}
}

// buildAuditReport converts the script's setup/payoff defects into the
// issue list handed to the modify stage.
func buildAuditReport(s *script.Script) *analysis.AuditReport {
	report := &analysis.AuditReport{}
	for i, iss := range script.SetupPayoffIssues(s) {
		report.Issues = append(report.Issues, analysis.Issue{
			IssueID:        fmt.Sprintf("ISS_%03d", i+1),
			Severity:       analysis.SeverityMedium,
			Category:       "setup_payoff",
			Description:    iss.Reason,
			AffectedScenes: []string{iss.SceneID},
			SuggestedFix: analysis.SuggestedFix{
				Action:      "repair_link",
				TargetScene: iss.SceneID,
				Field:       iss.Field,
			},
		})
	}
	return report
}
