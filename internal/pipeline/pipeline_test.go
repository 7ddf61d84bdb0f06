package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempofill/internal/model"
	"tempofill/internal/reconcile"
	"tempofill/internal/tempo"
)

type fakeSource struct {
	name string
	acts []model.Activity
	err  error
	seen reconcile.Range
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Activities(_ context.Context, r reconcile.Range) ([]model.Activity, error) {
	f.seen = r
	return f.acts, f.err
}

type fakeSink struct {
	created  []tempo.Worklog
	failAt   int
	deleted  int
	purgeErr error
	calls    []string
	purged   [2]time.Time
}

func (f *fakeSink) Create(_ context.Context, w tempo.Worklog) (tempo.Created, error) {
	f.calls = append(f.calls, "create")
	if f.failAt > 0 && len(f.created)+1 == f.failAt {
		return tempo.Created{}, tempo.ErrStatus
	}
	f.created = append(f.created, w)
	return tempo.Created{TempoWorklogID: int64(100 + len(f.created))}, nil
}

func (f *fakeSink) DeleteRange(_ context.Context, from, to time.Time) (int, error) {
	f.calls = append(f.calls, "delete")
	f.purged = [2]time.Time{from, to}
	return f.deleted, f.purgeErr
}

func at(day, hour int) time.Time {
	return time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC)
}

func newRunner(sink *fakeSink) (*Runner, *fakeSource, *fakeSource) {
	issues := &fakeSource{name: "jira", acts: []model.Activity{
		{ID: "10001", Key: "PRJ-1", Type: "In Progress", Start: at(8, 8), End: at(8, 20)},
		{ID: "10002", Key: "PRJ-2", Type: "In Progress"},
	}}
	calendar := &fakeSource{name: "calendar", acts: []model.Activity{
		{ID: "190786", Key: "Standup", Type: model.TypeMeeting, Start: at(8, 10), End: at(8, 11)},
	}}
	s := reconcile.DefaultSettings()
	s.PriorityOrder = []string{model.TypeMeeting, "In Progress"}
	return &Runner{
		Issues:   issues,
		Calendar: calendar,
		Sink:     sink,
		Settings: s,
		Range:    reconcile.Range{From: at(8, 0), To: at(9, 0)},
		Account:  "acc-1",
	}, issues, calendar
}

func TestPlan_ReconcilesBothSources(t *testing.T) {
	r, issues, calendar := newRunner(&fakeSink{})

	plan, err := r.Plan(context.Background())

	require.NoError(t, err)
	_, err = uuid.Parse(plan.RunID)
	assert.NoError(t, err)
	assert.Equal(t, r.Range, issues.seen)
	assert.Equal(t, r.Range, calendar.seen)
	assert.Equal(t, map[string]int{"jira": 2, "calendar": 1}, plan.Sources)

	assert.Equal(t, []tempo.Worklog{
		{AuthorAccountID: "acc-1", IssueID: "190786", StartDate: "2024-01-08", StartTime: "10:00:00", Description: "Meeting Standup", TimeSpentSeconds: 3600},
		{AuthorAccountID: "acc-1", IssueID: "10001", StartDate: "2024-01-08", StartTime: "09:00:00", Description: "In Progress PRJ-1", TimeSpentSeconds: 3600},
		{AuthorAccountID: "acc-1", IssueID: "10001", StartDate: "2024-01-08", StartTime: "11:00:00", Description: "In Progress PRJ-1", TimeSpentSeconds: 6 * 3600},
	}, plan.Worklogs)
	assert.Len(t, plan.Activities, 3)
}

func TestPlan_SkipsNilSource(t *testing.T) {
	r, _, _ := newRunner(&fakeSink{})
	r.Calendar = nil

	plan, err := r.Plan(context.Background())

	require.NoError(t, err)
	require.Len(t, plan.Worklogs, 1)
	assert.Equal(t, int64(8*3600), plan.Worklogs[0].TimeSpentSeconds)
}

func TestPlan_SourceFailureAborts(t *testing.T) {
	r, _, calendar := newRunner(&fakeSink{})
	boom := errors.New("boom")
	calendar.err = boom

	_, err := r.Plan(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "collect calendar")
}

func TestSubmit_StopsAtFirstFailure(t *testing.T) {
	sink := &fakeSink{failAt: 2}
	r, _, _ := newRunner(sink)
	plan, err := r.Plan(context.Background())
	require.NoError(t, err)

	res, err := r.Submit(context.Background(), plan.RunID, plan.Worklogs)

	require.Error(t, err)
	assert.ErrorIs(t, err, tempo.ErrStatus)
	assert.Equal(t, 1, res.Submitted)
	assert.Equal(t, []int64{101}, res.IDs)
	assert.Len(t, sink.created, 1)
	assert.Len(t, sink.calls, 2)
}

func TestSubmit_NoSink(t *testing.T) {
	r := &Runner{}
	_, err := r.Submit(context.Background(), "run", nil)
	assert.Error(t, err)
}

func TestFill_PurgesAfterPlanning(t *testing.T) {
	sink := &fakeSink{deleted: 4}
	r, _, _ := newRunner(sink)

	plan, res, err := r.Fill(context.Background(), true)

	require.NoError(t, err)
	assert.Equal(t, len(plan.Worklogs), res.Submitted)
	assert.Equal(t, []string{"delete", "create", "create", "create"}, sink.calls)
}

func TestFill_SourceFailureSkipsPurge(t *testing.T) {
	sink := &fakeSink{}
	r, issues, _ := newRunner(sink)
	issues.err = errors.New("unauthorized")

	_, _, err := r.Fill(context.Background(), true)

	require.Error(t, err)
	assert.Empty(t, sink.calls)
}

func TestPurge_WrapsSinkError(t *testing.T) {
	sink := &fakeSink{deleted: 2, purgeErr: tempo.ErrStatus}
	r, _, _ := newRunner(sink)

	n, err := r.Purge(context.Background())

	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, tempo.ErrStatus)
}

func TestPurge_UsesInclusiveLastDay(t *testing.T) {
	sink := &fakeSink{deleted: 1}
	r, _, _ := newRunner(sink)
	r.Range = reconcile.Range{From: at(8, 0), To: at(13, 0)}

	n, err := r.Purge(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, [2]time.Time{at(8, 0), at(12, 0)}, sink.purged)
}
