package ics

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempofill/internal/model"
	"tempofill/internal/reconcile"
)

const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//tempofill//test//EN
BEGIN:VEVENT
UID:standup@test
DTSTAMP:20240101T000000Z
DTSTART:20240108T090000Z
DTEND:20240108T091500Z
RRULE:FREQ=DAILY;COUNT=5
EXDATE:20240110T090000Z
SUMMARY:Standup
STATUS:CONFIRMED
ATTENDEE;PARTSTAT=ACCEPTED:mailto:me@example.com
END:VEVENT
BEGIN:VEVENT
UID:standup@test
DTSTAMP:20240101T000000Z
RECURRENCE-ID:20240109T090000Z
DTSTART:20240109T100000Z
DTEND:20240109T103000Z
SUMMARY:Standup (moved)
STATUS:CONFIRMED
ATTENDEE;PARTSTAT=ACCEPTED:mailto:me@example.com
END:VEVENT
BEGIN:VEVENT
UID:declined@test
DTSTAMP:20240101T000000Z
DTSTART:20240108T130000Z
DTEND:20240108T140000Z
SUMMARY:Sales sync
STATUS:CONFIRMED
ATTENDEE;PARTSTAT=DECLINED:mailto:me@example.com
END:VEVENT
BEGIN:VEVENT
UID:tentative@test
DTSTAMP:20240101T000000Z
DTSTART:20240108T150000Z
DTEND:20240108T160000Z
SUMMARY:Maybe
STATUS:TENTATIVE
ATTENDEE;PARTSTAT=ACCEPTED:mailto:me@example.com
END:VEVENT
BEGIN:VEVENT
UID:ooo@test
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20240111
DTEND;VALUE=DATE:20240112
SUMMARY:Out of office
STATUS:CONFIRMED
ATTENDEE;PARTSTAT=ACCEPTED:Mailto:ME@example.com
END:VEVENT
END:VCALENDAR
`

func sampleBody() []byte {
	return []byte(strings.ReplaceAll(sampleICS, "\n", "\r\n"))
}

func utc(day, hour, min int) time.Time {
	return time.Date(2024, 1, day, hour, min, 0, 0, time.UTC)
}

func testRange() reconcile.Range {
	return reconcile.Range{From: utc(8, 0, 0), To: utc(13, 0, 0)}
}

func TestParseICS_ReadsStatusAndAttendees(t *testing.T) {
	events, err := ParseICS(Feed{ID: "work"}, sampleBody(), time.UTC)

	require.NoError(t, err)
	require.Len(t, events, 5)

	standup := events[0]
	assert.Equal(t, "standup@test", standup.UID)
	assert.Equal(t, "CONFIRMED", standup.Status)
	assert.Equal(t, []Attendee{{Email: "me@example.com", PartStat: "ACCEPTED"}}, standup.Attendees)
	assert.Equal(t, "FREQ=DAILY;COUNT=5", standup.RawRRule)
	require.Len(t, standup.ExDates, 1)
	assert.True(t, standup.ExDates[0].Equal(utc(10, 9, 0)))
	assert.True(t, standup.Start.Equal(utc(8, 9, 0)))

	override := events[1]
	assert.True(t, override.IsOverride)
	require.NotNil(t, override.Recurrence)
	assert.True(t, override.Recurrence.Equal(utc(9, 9, 0)))

	ooo := events[4]
	assert.True(t, ooo.AllDay)
	assert.Equal(t, utc(11, 0, 0), ooo.Start)
	assert.Equal(t, utc(12, 0, 0), ooo.End)
	assert.Equal(t, "me@example.com", ooo.Attendees[0].Email)
}

func TestAttendeeEmail_SchemeCaseInsensitive(t *testing.T) {
	for _, v := range []string{
		"mailto:me@example.com",
		"MAILTO:me@example.com",
		"Mailto:Me@Example.com",
		" mAiLtO:me@example.com ",
		"me@example.com",
	} {
		assert.Equal(t, "me@example.com", attendeeEmail(v), v)
	}
}

func TestParseICS_EmptyBody(t *testing.T) {
	_, err := ParseICS(Feed{ID: "x"}, nil, time.UTC)
	assert.Error(t, err)
}

func TestExpand_AppliesRRuleExDateAndOverride(t *testing.T) {
	events, err := ParseICS(Feed{ID: "work"}, sampleBody(), time.UTC)
	require.NoError(t, err)

	res, err := Expand(events, ExpandConfig{RangeStart: utc(8, 0, 0), RangeEnd: utc(13, 0, 0)})
	require.NoError(t, err)

	var standups []Occurrence
	for _, o := range res.Occurrences {
		if o.UID == "standup@test" {
			standups = append(standups, o)
		}
	}
	require.Len(t, standups, 4)
	assert.True(t, standups[0].Start.Equal(utc(8, 9, 0)))
	assert.Equal(t, "Standup (moved)", standups[1].Summary)
	assert.True(t, standups[1].Start.Equal(utc(9, 10, 0)))
	assert.True(t, standups[1].End.Equal(utc(9, 10, 30)))
	assert.True(t, standups[2].Start.Equal(utc(11, 9, 0)))
	assert.True(t, standups[3].Start.Equal(utc(12, 9, 0)))
	assert.Empty(t, res.TruncatedUIDs)
}

func TestExpand_CapTruncatesSeries(t *testing.T) {
	events, err := ParseICS(Feed{ID: "work"}, sampleBody(), time.UTC)
	require.NoError(t, err)

	res, err := Expand(events, ExpandConfig{RangeStart: utc(8, 0, 0), RangeEnd: utc(13, 0, 0), MaxOccurrencesPerEvent: 2})

	require.NoError(t, err)
	assert.Equal(t, []string{"standup@test"}, res.TruncatedUIDs)
}

func TestExpand_RejectsInvertedRange(t *testing.T) {
	_, err := Expand(nil, ExpandConfig{RangeStart: utc(9, 0, 0), RangeEnd: utc(8, 0, 0)})
	assert.Error(t, err)
}

func TestExpand_SingleEventOutsideRangeDropped(t *testing.T) {
	ev := ParsedEvent{UID: "a", Start: utc(20, 9, 0), End: utc(20, 10, 0)}

	res, err := Expand([]ParsedEvent{ev}, ExpandConfig{RangeStart: utc(8, 0, 0), RangeEnd: utc(13, 0, 0)})

	require.NoError(t, err)
	assert.Empty(t, res.Occurrences)
}

func TestAccepted(t *testing.T) {
	occ := Occurrence{Status: "CONFIRMED", Attendees: []Attendee{
		{Email: "other@example.com", PartStat: "ACCEPTED"},
		{Email: "me@example.com", PartStat: "ACCEPTED"},
	}}
	assert.True(t, Accepted(occ, "Me@Example.com"))
	assert.False(t, Accepted(occ, "nobody@example.com"))

	occ.Status = "CANCELLED"
	assert.False(t, Accepted(occ, "me@example.com"))

	occ.Status = "CONFIRMED"
	occ.Attendees[1].PartStat = "NEEDS-ACTION"
	assert.False(t, Accepted(occ, "me@example.com"))
}

func TestFetcher_UsesETagCacheAndFallsBack(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(sampleBody())
	}))

	f := NewFetcher(FetcherConfig{CacheDir: t.TempDir()})
	feed := Feed{ID: "work", URL: srv.URL + "/private-token/basic.ics"}

	first, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, 2, requests)

	srv.Close()
	third, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, third.FromCache)
	assert.Equal(t, first.Body, third.Body)
}

func TestSaveCache_ReadersNeverSeePartialBody(t *testing.T) {
	dir := t.TempDir()
	small := sampleBody()
	large := bytes.Repeat(sampleBody(), 200)
	require.NoError(t, saveCache(dir, cacheMeta{ETag: `"v1"`}, small))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			body := small
			if i%2 == 0 {
				body = large
			}
			assert.NoError(t, saveCache(dir, cacheMeta{ETag: `"v2"`}, body))
		}
	}()

	for reading := true; reading; {
		select {
		case <-done:
			reading = false
		default:
		}
		got, err := os.ReadFile(filepath.Join(dir, "body.ics"))
		require.NoError(t, err)
		assert.True(t, bytes.Equal(got, small) || bytes.Equal(got, large), "partial body of %d bytes", len(got))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"body.ics", "meta.json"}, names)
	meta, err := loadMeta(dir)
	require.NoError(t, err)
	assert.Equal(t, `"v2"`, meta.ETag)
}

func TestFetcher_FetchAllJoinsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{})
	res, err := f.FetchAll(context.Background(), []Feed{{ID: "a", URL: srv.URL}, {ID: "b"}})

	assert.Empty(t, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed a")
	assert.Contains(t, err.Error(), "feed b")
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.google.com/...(redacted)",
		redactURL("https://calendar.google.com/calendar/ical/me%40example.com/private-abc/basic.ics"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}

func TestSource_ProducesAcceptedMeetingsAndAbsences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(sampleBody())
	}))
	defer srv.Close()

	src := NewSource(NewFetcher(FetcherConfig{}), SourceConfig{
		Feeds:        []Feed{{ID: "work", URL: srv.URL}},
		Email:        "me@example.com",
		AbsenceLabel: "out of office",
		Location:     time.UTC,
	})

	acts, err := src.Activities(context.Background(), testRange())

	require.NoError(t, err)
	require.Len(t, acts, 5)
	for _, a := range acts[:4] {
		assert.Equal(t, model.TypeMeeting, a.Type)
		assert.Equal(t, DefaultMeetingIssueID, a.ID)
	}
	assert.Equal(t, "Standup (moved)", acts[1].Key)
	assert.Equal(t, model.DefaultAbsenceType, acts[4].Type)
	assert.Equal(t, "Out of office", acts[4].Key)
	assert.Equal(t, "calendar", src.Name())
}

func TestSource_FeedFailureAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewSource(NewFetcher(FetcherConfig{}), SourceConfig{Feeds: []Feed{{ID: "work", URL: srv.URL}}})

	_, err := src.Activities(context.Background(), testRange())
	assert.Error(t, err)
}
