package cli

import (
	"context"
	"net/http"
	"time"

	"tempofill/internal/config"
	"tempofill/internal/ics"
	"tempofill/internal/jira"
	"tempofill/internal/pipeline"
	"tempofill/internal/reconcile"
	"tempofill/internal/tempo"
	"tempofill/internal/web"
)

const httpTimeout = 30 * time.Second

// BuildRunner wires the Jira and calendar producers and the Tempo sink for
// cfg. The calendar producer is left out when no feed is configured.
func BuildRunner(cfg *config.Config, r reconcile.Range) (*pipeline.Runner, error) {
	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}
	hc := &http.Client{Timeout: httpTimeout}

	jc := jira.NewClient(jira.ClientConfig{
		Server:     cfg.Jira.Server,
		Username:   cfg.Jira.Username,
		APIToken:   cfg.Jira.APIKey,
		HTTPClient: hc,
	})
	rules := jira.Rules{
		AccountID:       cfg.Jira.AccountID,
		StartedStates:   cfg.WorkStates.Started,
		FinishedStates:  cfg.WorkStates.Finished,
		CommentDuration: time.Duration(cfg.WorkSchedule.CommentDurationHours) * time.Hour,
		Ongoing:         cfg.Jira.OngoingIssues,
	}

	runner := &pipeline.Runner{
		Issues: jira.NewSource(jc, cfg.Jira.Project, cfg.Jira.JQL, rules),
		Sink: tempo.NewClient(tempo.Config{
			BaseURL:    cfg.Tempo.BaseURL,
			Token:      cfg.Tempo.APIKey,
			HTTPClient: hc,
		}),
		Settings: settings,
		Range:    r,
		Account:  cfg.Jira.AccountID,
	}

	if len(cfg.Calendar.Feeds) > 0 {
		feeds := make([]ics.Feed, 0, len(cfg.Calendar.Feeds))
		for _, f := range cfg.Calendar.Feeds {
			feeds = append(feeds, ics.Feed{ID: f.ID, URL: f.URL})
		}
		fetcher := ics.NewFetcher(ics.FetcherConfig{CacheDir: cfg.Calendar.CacheDir, HTTPClient: hc})
		runner.Calendar = ics.NewSource(fetcher, ics.SourceConfig{
			Feeds:          feeds,
			Email:          cfg.Calendar.Email,
			MeetingIssueID: cfg.Jira.MeetingIssueID,
			AbsenceLabel:   cfg.Calendar.AbsenceLabel,
			AbsenceType:    cfg.WorkSchedule.AbsenceType,
			Location:       settings.Location,
		})
	}

	return runner, nil
}

// ServePreview runs the timeline preview server for runner.
func ServePreview(ctx context.Context, cfg *config.Config, runner *pipeline.Runner) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	srv := web.NewServer(runner, web.Options{
		Listen:    cfg.Serve.Listen,
		BasicAuth: cfg.Serve.BasicAuth,
		Refresh:   cfg.Serve.Refresh,
		Location:  loc,
	})
	return srv.Run(ctx)
}
