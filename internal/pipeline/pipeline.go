// Package pipeline wires the producers, the reconciliation engine and the
// worklog sink into one run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	appLog "tempofill/internal/log"
	"tempofill/internal/model"
	"tempofill/internal/reconcile"
	"tempofill/internal/tempo"
)

// Source yields raw activities for a run range.
type Source interface {
	Name() string
	Activities(ctx context.Context, r reconcile.Range) ([]model.Activity, error)
}

// Sink accepts worklogs.
type Sink interface {
	Create(ctx context.Context, w tempo.Worklog) (tempo.Created, error)
	DeleteRange(ctx context.Context, from, to time.Time) (int, error)
}

// Runner executes one reconciliation run. Sources are consulted in order;
// a nil source is skipped.
type Runner struct {
	Issues   Source
	Calendar Source
	Sink     Sink

	Settings reconcile.Settings
	Range    reconcile.Range
	// Account is the author account stamped on every worklog.
	Account string
}

// Plan is the result of a dry run.
type Plan struct {
	RunID      string           `json:"run_id"`
	From       time.Time        `json:"from"`
	To         time.Time        `json:"to"`
	Activities []model.Activity `json:"activities"`
	Worklogs   []tempo.Worklog  `json:"worklogs"`
	// Sources counts raw activities per source name.
	Sources map[string]int `json:"sources"`
}

// SubmitResult reports how far a submission got.
type SubmitResult struct {
	Submitted int
	IDs       []int64
}

// Plan collects every source and reconciles the combined activities. Any
// source failure aborts the run.
func (r *Runner) Plan(ctx context.Context) (Plan, error) {
	runID := uuid.NewString()
	plan := Plan{
		RunID:   runID,
		From:    r.Range.From,
		To:      r.Range.To,
		Sources: make(map[string]int),
	}

	var raw []model.Activity
	for _, src := range []Source{r.Issues, r.Calendar} {
		if src == nil {
			continue
		}
		acts, err := src.Activities(ctx, r.Range)
		if err != nil {
			return Plan{}, fmt.Errorf("collect %s: %w", src.Name(), err)
		}
		plan.Sources[src.Name()] = len(acts)
		raw = append(raw, acts...)
	}

	plan.Activities = reconcile.Reconcile(raw, r.Settings, r.Range)
	plan.Worklogs = make([]tempo.Worklog, 0, len(plan.Activities))
	for _, a := range plan.Activities {
		plan.Worklogs = append(plan.Worklogs, tempo.NewWorklog(r.Account, a))
	}

	appLog.Info("plan built",
		"run_id", runID,
		"from", r.Range.From.Format(time.DateOnly),
		"to", r.Range.To.Format(time.DateOnly),
		"raw", len(raw),
		"worklogs", len(plan.Worklogs),
	)
	return plan, nil
}

// Submit posts worklogs in order and stops at the first failure. Worklogs
// already created stay in place.
func (r *Runner) Submit(ctx context.Context, runID string, worklogs []tempo.Worklog) (SubmitResult, error) {
	if r.Sink == nil {
		return SubmitResult{}, errors.New("no sink configured")
	}

	var res SubmitResult
	for i, w := range worklogs {
		created, err := r.Sink.Create(ctx, w)
		if err != nil {
			appLog.Error("worklog submit failed", err,
				"run_id", runID,
				"index", i,
				"submitted", res.Submitted,
				"remaining", len(worklogs)-i,
			)
			return res, fmt.Errorf("submit worklog %d (%s %s): %w", i, w.StartDate, w.Description, err)
		}
		res.Submitted++
		res.IDs = append(res.IDs, created.TempoWorklogID)
		appLog.Debug("worklog created",
			"run_id", runID,
			"id", created.TempoWorklogID,
			"issue", w.IssueID,
			"start", w.StartDate+" "+w.StartTime,
			"seconds", w.TimeSpentSeconds,
		)
	}

	appLog.Info("worklogs submitted", "run_id", runID, "count", res.Submitted)
	return res, nil
}

// Purge deletes the worklogs already recorded in the run range.
func (r *Runner) Purge(ctx context.Context) (int, error) {
	if r.Sink == nil {
		return 0, errors.New("no sink configured")
	}
	// Tempo date filters are inclusive; the run range ends at midnight of
	// the day after its last day.
	last := r.Range.To.AddDate(0, 0, -1)
	n, err := r.Sink.DeleteRange(ctx, r.Range.From, last)
	if err != nil {
		return n, fmt.Errorf("purge worklogs: %w", err)
	}
	appLog.Info("worklogs purged",
		"from", r.Range.From.Format(time.DateOnly),
		"to", last.Format(time.DateOnly),
		"count", n,
	)
	return n, nil
}

// Fill plans, optionally purges the range, then submits. A failing source
// leaves existing worklogs untouched.
func (r *Runner) Fill(ctx context.Context, purge bool) (Plan, SubmitResult, error) {
	plan, err := r.Plan(ctx)
	if err != nil {
		return Plan{}, SubmitResult{}, err
	}
	if purge {
		if _, err := r.Purge(ctx); err != nil {
			return plan, SubmitResult{}, err
		}
	}
	res, err := r.Submit(ctx, plan.RunID, plan.Worklogs)
	return plan, res, err
}
