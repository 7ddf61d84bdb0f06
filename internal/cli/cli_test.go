package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempofill/internal/config"
	appLog "tempofill/internal/log"
	"tempofill/internal/model"
	"tempofill/internal/pipeline"
	"tempofill/internal/reconcile"
	"tempofill/internal/tempo"
)

const testConfig = `
log_level: error
run:
  start_date: "2024-01-08"
  end_date: "2024-01-09"
jira:
  server: https://example.atlassian.net
  account_id: acc-1
  project: PRJ
`

type stubSource struct{ acts []model.Activity }

func (s stubSource) Name() string { return "stub" }

func (s stubSource) Activities(context.Context, reconcile.Range) ([]model.Activity, error) {
	return s.acts, nil
}

type recordingSink struct {
	created []tempo.Worklog
	deletes int
	fail    error
}

func (s *recordingSink) Create(_ context.Context, w tempo.Worklog) (tempo.Created, error) {
	if s.fail != nil {
		return tempo.Created{}, s.fail
	}
	s.created = append(s.created, w)
	return tempo.Created{TempoWorklogID: int64(len(s.created))}, nil
}

func (s *recordingSink) DeleteRange(context.Context, time.Time, time.Time) (int, error) {
	s.deletes++
	return 3, nil
}

type harness struct {
	app    *App
	sink   *recordingSink
	path   string
	gotRng reconcile.Range
	served string
	stdin  string
	isTTY  bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{sink: &recordingSink{}}
	h.path = filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(h.path, []byte(testConfig), 0o600))

	h.app = &App{
		BuildRunner: func(cfg *config.Config, r reconcile.Range) (*pipeline.Runner, error) {
			h.gotRng = r
			s, err := cfg.Settings()
			if err != nil {
				return nil, err
			}
			day := r.From
			return &pipeline.Runner{
				Issues: stubSource{acts: []model.Activity{{
					ID: "10001", Key: "PRJ-1", Type: "In Progress",
					Start: day.Add(10 * time.Hour), End: day.Add(12 * time.Hour),
				}}},
				Sink:     h.sink,
				Settings: s,
				Range:    r,
				Account:  cfg.Jira.AccountID,
			}, nil
		},
		Serve: func(_ context.Context, cfg *config.Config, _ *pipeline.Runner) error {
			h.served = cfg.Serve.Listen
			return nil
		},
		IsInteractive: func() bool { return h.isTTY },
	}
	return h
}

func (h *harness) run(args ...string) (string, error) {
	h.app.Stdin = strings.NewReader(h.stdin)
	root := NewRootCmd(h.app)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"--config", h.path}, args...))
	err := root.Execute()
	return buf.String(), err
}

func TestPlanCmd_PrintsJSON(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("plan")

	require.NoError(t, err)
	var plan pipeline.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	require.Len(t, plan.Worklogs, 1)
	assert.Equal(t, "In Progress PRJ-1", plan.Worklogs[0].Description)
	assert.Equal(t, "10:00:00", plan.Worklogs[0].StartTime)
	assert.Equal(t, int64(7200), plan.Worklogs[0].TimeSpentSeconds)
	assert.Empty(t, h.sink.created)
}

func TestPlanCmd_RangeFlagsOverrideConfig(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("plan", "--from", "2024-02-05", "--to", "2024-02-07")

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), h.gotRng.From)
	assert.Equal(t, time.Date(2024, 2, 7, 0, 0, 0, 0, time.UTC), h.gotRng.To)
}

func TestPlanCmd_InvalidConfig(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("plan", "--to", "2024-01-01")

	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestPlanCmd_StartupLineHonoursLogLevel(t *testing.T) {
	var logs bytes.Buffer
	appLog.SetOutput(&logs)
	t.Cleanup(func() {
		appLog.SetOutput(os.Stderr)
		appLog.SetLevel(appLog.LevelInfo)
	})
	h := newHarness(t)
	h.app.Version = "1.2.3"

	_, err := h.run("plan", "--log-level", "debug")
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "tempofill starting version=1.2.3")

	logs.Reset()
	_, err = h.run("plan")
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), "tempofill starting")
}

func TestPlanCmd_UnknownLogLevel(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("plan", "--log-level", "chatty")

	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestPlanCmd_FirstRunWritesDefaultConfig(t *testing.T) {
	h := newHarness(t)
	h.path = filepath.Join(t.TempDir(), "fresh.yaml")

	_, err := h.run("plan")

	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.FileExists(t, h.path)
}

func TestFillCmd_PurgesAndSubmits(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("fill", "--purge")

	require.NoError(t, err)
	assert.Equal(t, 1, h.sink.deletes)
	assert.Len(t, h.sink.created, 1)
	assert.Contains(t, out, "Submitted 1 worklogs")
}

func TestFillCmd_SinkFailure(t *testing.T) {
	h := newHarness(t)
	h.sink.fail = tempo.ErrStatus

	_, err := h.run("fill")

	assert.ErrorIs(t, err, tempo.ErrStatus)
	assert.Zero(t, h.sink.deletes)
}

func TestPurgeCmd_WithYes(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("purge", "--yes")

	require.NoError(t, err)
	assert.Equal(t, 1, h.sink.deletes)
	assert.Contains(t, out, "Deleted 3 worklogs")
}

func TestPurgeCmd_RefusesNonInteractiveWithoutYes(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("purge")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
	assert.Zero(t, h.sink.deletes)
}

func TestPurgeCmd_Prompt(t *testing.T) {
	h := newHarness(t)
	h.isTTY = true

	h.stdin = "n\n"
	out, err := h.run("purge")
	require.NoError(t, err)
	assert.Contains(t, out, "from 2024-01-08 to 2024-01-08? [y/N]")
	assert.Contains(t, out, "Aborted")
	assert.Zero(t, h.sink.deletes)

	h.stdin = "yes\n"
	_, err = h.run("purge")
	require.NoError(t, err)
	assert.Equal(t, 1, h.sink.deletes)
}

func TestServeCmd_ListenOverride(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("serve", "--listen", "0.0.0.0:9999")

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", h.served)
}

func TestBuildRunner_WiresCalendarOnlyWithFeeds(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Jira.AccountID = "acc-1"
	r := reconcile.Range{From: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)}

	runner, err := BuildRunner(cfg, r)
	require.NoError(t, err)
	assert.NotNil(t, runner.Issues)
	assert.Nil(t, runner.Calendar)
	assert.Equal(t, "acc-1", runner.Account)

	cfg.Calendar.Feeds = []config.CalendarFeed{{ID: "work", URL: "https://calendar.example.com/basic.ics"}}
	runner, err = BuildRunner(cfg, r)
	require.NoError(t, err)
	require.NotNil(t, runner.Calendar)
	assert.Equal(t, "calendar", runner.Calendar.Name())
}
