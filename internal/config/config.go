package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"tempofill/internal/model"
	"tempofill/internal/reconcile"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// RunConfig is the date range one invocation reconciles.
type RunConfig struct {
	// StartDate / EndDate are YYYY-MM-DD; the range is [StartDate, EndDate).
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
	// Timezone is the IANA zone for work windows and worklog timestamps.
	Timezone string `yaml:"timezone"`
}

type JiraConfig struct {
	Server    string `yaml:"server"`
	AccountID string `yaml:"account_id"`
	Project   string `yaml:"project"`
	// JQL replaces the default project query when set.
	JQL      string `yaml:"jql,omitempty"`
	Username string `yaml:"username"`
	APIKey   string `yaml:"api_key"`
	// MeetingIssueID is the issue calendar meetings are logged against.
	MeetingIssueID string `yaml:"meeting_issue_id"`
	// OngoingIssues are issue keys whose open work ends "now".
	OngoingIssues []string `yaml:"ongoing_issues"`
}

// CalendarFeed is a single ICS subscription.
type CalendarFeed struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type CalendarConfig struct {
	// Email is the attendee address whose acceptance counts.
	Email string `yaml:"email"`
	// AbsenceLabel is the event title treated as an absence.
	AbsenceLabel string         `yaml:"absence_label"`
	CacheDir     string         `yaml:"cache_dir"`
	Feeds        []CalendarFeed `yaml:"feeds"`
}

type TempoConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type WorkStatesConfig struct {
	Started  []string `yaml:"started_work_states"`
	Finished []string `yaml:"finished_work_states"`
	// PriorityOrder lists activity types, highest priority first.
	PriorityOrder []string `yaml:"priority_order"`
}

type WorkScheduleConfig struct {
	WorkdayStartHour     int      `yaml:"workday_start_hour"`
	WorkdayDurationHours int      `yaml:"workday_duration_hours"`
	CommentDurationHours int      `yaml:"comment_duration_hours"`
	Weekend              []string `yaml:"weekend"`
	AbsenceType          string   `yaml:"absence_type"`
}

// BasicAuthConfig protects the preview server.
type BasicAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type ServeConfig struct {
	Listen string `yaml:"listen"`
	// Refresh is a cron expression for recomputing the preview.
	Refresh   string           `yaml:"refresh"`
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	LogLevel     string             `yaml:"log_level"`
	Run          RunConfig          `yaml:"run"`
	Jira         JiraConfig         `yaml:"jira"`
	Calendar     CalendarConfig     `yaml:"calendar"`
	Tempo        TempoConfig        `yaml:"tempo"`
	WorkStates   WorkStatesConfig   `yaml:"work_states"`
	WorkSchedule WorkScheduleConfig `yaml:"work_schedule"`
	Serve        ServeConfig        `yaml:"serve"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Run: RunConfig{
			Timezone: "UTC",
		},
		Jira: JiraConfig{
			MeetingIssueID: "190786",
			OngoingIssues:  []string{},
		},
		Calendar: CalendarConfig{
			AbsenceLabel: model.DefaultAbsenceType,
			CacheDir:     "./var/ics-cache",
			Feeds:        []CalendarFeed{},
		},
		Tempo: TempoConfig{
			BaseURL: "https://api.tempo.io/4",
		},
		WorkStates: WorkStatesConfig{
			Started:       []string{"In Progress", "Code Review"},
			Finished:      []string{"Done"},
			PriorityOrder: []string{model.TypeMeeting, "In Progress", "Code Review", model.TypeComment},
		},
		WorkSchedule: WorkScheduleConfig{
			WorkdayStartHour:     9,
			WorkdayDurationHours: 8,
			CommentDurationHours: 2,
			Weekend:              []string{"saturday", "sunday"},
			AbsenceType:          model.DefaultAbsenceType,
		},
		Serve: ServeConfig{
			Listen:  "127.0.0.1:8080",
			Refresh: "0 * * * *",
		},
	}
}

// Normalize fills zero values with defaults so partially-filled files
// behave like the defaults. WorkdayStartHour is left alone since zero is
// midnight.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Run.Timezone == "" {
		c.Run.Timezone = d.Run.Timezone
	}
	if c.Jira.MeetingIssueID == "" {
		c.Jira.MeetingIssueID = d.Jira.MeetingIssueID
	}
	if c.Jira.OngoingIssues == nil {
		c.Jira.OngoingIssues = []string{}
	}
	if c.Calendar.AbsenceLabel == "" {
		c.Calendar.AbsenceLabel = d.Calendar.AbsenceLabel
	}
	if c.Calendar.Feeds == nil {
		c.Calendar.Feeds = []CalendarFeed{}
	}
	for i := range c.Calendar.Feeds {
		f := &c.Calendar.Feeds[i]
		if f.ID == "" {
			f.ID = f.Name
		}
		if f.ID == "" {
			f.ID = fmt.Sprintf("feed-%d", i+1)
		}
	}
	if c.Tempo.BaseURL == "" {
		c.Tempo.BaseURL = d.Tempo.BaseURL
	}
	if c.WorkStates.PriorityOrder == nil {
		c.WorkStates.PriorityOrder = d.WorkStates.PriorityOrder
	}
	if c.WorkSchedule.WorkdayDurationHours <= 0 {
		c.WorkSchedule.WorkdayDurationHours = d.WorkSchedule.WorkdayDurationHours
	}
	if c.WorkSchedule.CommentDurationHours <= 0 {
		c.WorkSchedule.CommentDurationHours = d.WorkSchedule.CommentDurationHours
	}
	if c.WorkSchedule.Weekend == nil {
		c.WorkSchedule.Weekend = d.WorkSchedule.Weekend
	}
	if c.WorkSchedule.AbsenceType == "" {
		c.WorkSchedule.AbsenceType = d.WorkSchedule.AbsenceType
	}
	if c.Serve.Listen == "" {
		c.Serve.Listen = d.Serve.Listen
	}
	if c.Serve.Refresh == "" {
		c.Serve.Refresh = d.Serve.Refresh
	}
}

// Secret environment variables override the file.
const (
	EnvJiraUsername  = "JIRA_USERNAME"
	EnvJiraAPIKey    = "JIRA_API_KEY"
	EnvCalendarEmail = "CALENDAR_EMAIL"
	EnvTempoAPIKey   = "TEMPO_API_KEY"
)

// ApplyEnv overrides secrets from getenv; empty values are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Jira.Username, EnvJiraUsername)
	set(&c.Jira.APIKey, EnvJiraAPIKey)
	set(&c.Calendar.Email, EnvCalendarEmail)
	set(&c.Tempo.APIKey, EnvTempoAPIKey)
}

// Location loads Run.Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Run.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: run.timezone %q: %v", ErrInvalid, c.Run.Timezone, err)
	}
	return loc, nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// Weekend parses WorkSchedule.Weekend.
func (c *Config) Weekend() ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(c.WorkSchedule.Weekend))
	for _, name := range c.WorkSchedule.Weekend {
		d, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("%w: work_schedule.weekend: unknown day %q", ErrInvalid, name)
		}
		out = append(out, d)
	}
	return out, nil
}

// Settings converts the schedule sections into engine settings.
func (c *Config) Settings() (reconcile.Settings, error) {
	loc, err := c.Location()
	if err != nil {
		return reconcile.Settings{}, err
	}
	weekend, err := c.Weekend()
	if err != nil {
		return reconcile.Settings{}, err
	}
	return reconcile.Settings{
		PriorityOrder:    append([]string(nil), c.WorkStates.PriorityOrder...),
		WorkdayStartHour: c.WorkSchedule.WorkdayStartHour,
		WorkdayDuration:  time.Duration(c.WorkSchedule.WorkdayDurationHours) * time.Hour,
		Location:         loc,
		Weekend:          weekend,
		AbsenceType:      c.WorkSchedule.AbsenceType,
	}, nil
}

// Range parses the run dates in the run timezone.
func (c *Config) Range() (reconcile.Range, error) {
	loc, err := c.Location()
	if err != nil {
		return reconcile.Range{}, err
	}
	r, err := reconcile.ParseRange(c.Run.StartDate, c.Run.EndDate, loc)
	if err != nil {
		return reconcile.Range{}, fmt.Errorf("%w: run: %v", ErrInvalid, err)
	}
	return r, nil
}

// Validate checks what a fill run needs. Every problem is reported.
func (c *Config) Validate() error {
	var errs []error
	req := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%w: %s is required", ErrInvalid, name))
		}
	}

	req(c.Run.StartDate, "run.start_date")
	req(c.Run.EndDate, "run.end_date")
	_, locErr := c.Location()
	if locErr != nil {
		errs = append(errs, locErr)
	} else if c.Run.StartDate != "" && c.Run.EndDate != "" {
		if _, err := c.Range(); err != nil {
			errs = append(errs, err)
		}
	}
	req(c.Jira.Server, "jira.server")
	req(c.Jira.AccountID, "jira.account_id")
	if c.Jira.JQL == "" {
		req(c.Jira.Project, "jira.project")
	}

	if _, err := c.Weekend(); err != nil {
		errs = append(errs, err)
	}
	if h := c.WorkSchedule.WorkdayStartHour; h < 0 || h > 23 {
		errs = append(errs, fmt.Errorf("%w: work_schedule.workday_start_hour %d out of range", ErrInvalid, h))
	}
	if h := c.WorkSchedule.WorkdayDurationHours; h > 24 {
		errs = append(errs, fmt.Errorf("%w: work_schedule.workday_duration_hours %d exceeds a day", ErrInvalid, h))
	}
	if len(c.WorkStates.PriorityOrder) == 0 {
		errs = append(errs, fmt.Errorf("%w: work_states.priority_order is empty", ErrInvalid))
	}
	if len(c.Calendar.Feeds) > 0 {
		req(c.Calendar.Email, "calendar.email")
	}
	for i, f := range c.Calendar.Feeds {
		req(f.URL, fmt.Sprintf("calendar.feeds[%d].url", i))
	}
	if _, err := cron.ParseStandard(c.Serve.Refresh); err != nil {
		errs = append(errs, fmt.Errorf("%w: serve.refresh %q: %v", ErrInvalid, c.Serve.Refresh, err))
	}

	return errors.Join(errs...)
}

// Load reads the YAML file at path, normalizes it and applies environment
// overrides.
//
// On first run (file missing) a default config is written with 0600
// permissions and returned; it will not pass Validate until filled in.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			cfg.ApplyEnv(os.Getenv)
			return cfg, nil
		}
		return nil, err
	}

	// Decode over the defaults so omitted keys keep their default values.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	cfg.ApplyEnv(os.Getenv)

	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tempofill-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
