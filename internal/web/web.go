package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tempofill/internal/config"
	appLog "tempofill/internal/log"
	"tempofill/internal/model"
	"tempofill/internal/pipeline"
)

// DefaultCacheTTL is how long a computed timeline is served before the
// next request recomputes it.
const DefaultCacheTTL = 5 * time.Minute

// Planner computes a dry-run plan.
type Planner interface {
	Plan(ctx context.Context) (pipeline.Plan, error)
}

// Options configures the preview server.
type Options struct {
	Listen    string
	BasicAuth *config.BasicAuthConfig
	// Refresh is a standard cron expression; empty disables scheduled
	// refreshes.
	Refresh string
	// CacheTTL zero means DefaultCacheTTL.
	CacheTTL time.Duration
	// Location groups timeline entries into days. Nil means UTC.
	Location *time.Location
}

// Server exposes the reconciled timeline of the configured range as JSON,
// without submitting anything.
type Server struct {
	planner Planner
	opts    Options
	mux     *http.ServeMux
	now     func() time.Time

	// In-memory cache for /api/timeline responses.
	mu    sync.RWMutex
	cache *timelineCache
}

// NewServer constructs a new Server.
func NewServer(planner Planner, opts Options) *Server {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	s := &Server{
		planner: planner,
		opts:    opts,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.opts.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. An empty
// username or password disables it.
func (s *Server) basicAuthEnabled() bool {
	ba := s.opts.BasicAuth
	return ba != nil && ba.Username != "" && ba.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.opts.BasicAuth.Username
	password := s.opts.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="tempofill", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves until ctx is cancelled, refreshing the timeline on the cron
// schedule, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	var sched *cron.Cron
	if s.opts.Refresh != "" {
		sched = cron.New()
		if _, err := sched.AddFunc(s.opts.Refresh, func() {
			if _, err := s.Refresh(ctx); err != nil {
				appLog.Error("scheduled timeline refresh failed", err)
			}
		}); err != nil {
			return err
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.opts.Listen, "refresh", s.opts.Refresh)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/timeline", s.handleTimeline)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Timeline is the JSON response shape for /api/timeline.
type Timeline struct {
	RunID        string         `json:"run_id"`
	From         time.Time      `json:"from"`
	To           time.Time      `json:"to"`
	TimeZone     string         `json:"timezone"`
	Days         []TimelineDay  `json:"days"`
	TotalSeconds int64          `json:"total_seconds"`
	Sources      map[string]int `json:"sources"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type TimelineDay struct {
	Date         string          `json:"date"`
	Entries      []TimelineEntry `json:"entries"`
	TotalSeconds int64           `json:"total_seconds"`
}

type TimelineEntry struct {
	IssueID     string    `json:"issue_id"`
	Key         string    `json:"key"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Seconds     int64     `json:"seconds"`
}

// timelineCache holds a cached /api/timeline response and its timestamp.
type timelineCache struct {
	resp      Timeline
	updatedAt time.Time
}

// handleTimeline returns the reconciled timeline for the configured range.
//
// GET /api/timeline?refresh=1
//   - refresh: bypass the cache and recompute
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.URL.Query().Get("refresh") == "" {
		s.mu.RLock()
		tc := s.cache
		s.mu.RUnlock()
		if tc != nil && s.now().Sub(tc.updatedAt) < s.opts.CacheTTL {
			writeJSON(w, http.StatusOK, tc.resp)
			return
		}
	}

	resp, err := s.Refresh(r.Context())
	if err != nil {
		appLog.Error("api timeline: plan failed", err)
		writeError(w, http.StatusBadGateway, "failed to build timeline")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Refresh recomputes the timeline and replaces the cached response.
func (s *Server) Refresh(ctx context.Context) (Timeline, error) {
	plan, err := s.planner.Plan(ctx)
	if err != nil {
		return Timeline{}, err
	}

	resp := s.buildResponse(plan)

	s.mu.Lock()
	s.cache = &timelineCache{resp: resp, updatedAt: resp.UpdatedAt}
	s.mu.Unlock()

	appLog.Debug("timeline refreshed", "run_id", plan.RunID, "days", len(resp.Days))
	return resp, nil
}

// buildResponse groups plan activities into days in the display location,
// keeping placement order within a day.
func (s *Server) buildResponse(plan pipeline.Plan) Timeline {
	loc := s.opts.Location
	resp := Timeline{
		RunID:     plan.RunID,
		From:      plan.From,
		To:        plan.To,
		TimeZone:  loc.String(),
		Days:      []TimelineDay{},
		Sources:   plan.Sources,
		UpdatedAt: s.now(),
	}

	index := make(map[string]int)
	for _, a := range plan.Activities {
		date := a.Start.In(loc).Format(time.DateOnly)
		i, ok := index[date]
		if !ok {
			i = len(resp.Days)
			index[date] = i
			resp.Days = append(resp.Days, TimelineDay{Date: date, Entries: []TimelineEntry{}})
		}
		e := toEntry(a)
		resp.Days[i].Entries = append(resp.Days[i].Entries, e)
		resp.Days[i].TotalSeconds += e.Seconds
		resp.TotalSeconds += e.Seconds
	}
	return resp
}

func toEntry(a model.Activity) TimelineEntry {
	return TimelineEntry{
		IssueID:     a.ID,
		Key:         a.Key,
		Type:        a.Type,
		Description: a.Description(),
		Start:       a.Start,
		End:         a.End,
		Seconds:     int64(a.Duration() / time.Second),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
