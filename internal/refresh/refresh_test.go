package refresh

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"santecal/internal/config"
	"santecal/internal/ics"
	"santecal/internal/model"
	"santecal/internal/store"
)

// fakeFetcher serves fixed bodies per source ID and fails the rest.
type fakeFetcher struct {
	bodies map[string][]byte
	calls  int
}

func (f *fakeFetcher) FetchAll(_ context.Context, sources []ics.Source) ([]ics.FetchResult, []error) {
	f.calls++
	var res []ics.FetchResult
	var errs []error
	for _, s := range sources {
		body, ok := f.bodies[s.ID]
		if !ok {
			errs = append(errs, errors.New("unreachable: "+s.ID))
			continue
		}
		res = append(res, ics.FetchResult{Source: s, Body: body})
	}
	return res, errs
}

func feed(lines ...string) []byte {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//santecal//test//EN"}, lines...)
	all = append(all, "END:VCALENDAR", "")
	return []byte(strings.Join(all, "\r\n"))
}

func testConfig(sources ...config.ICSConfig) *config.Config {
	cfg := config.DefaultConfig()
	cfg.ICS = sources
	cfg.BackfillDays = 1
	cfg.HorizonDays = 7
	return cfg
}

func TestRunOnce_ReplacesFeedEvents(t *testing.T) {
	t.Parallel()

	cfg := testConfig(
		config.ICSConfig{ID: "clinic", URL: "https://example.com/clinic.ics"},
		config.ICSConfig{ID: "down", URL: "https://example.com/down.ics"},
		config.ICSConfig{ID: "blank"},
	)
	fetcher := &fakeFetcher{bodies: map[string][]byte{
		"clinic": feed(
			"BEGIN:VEVENT",
			"UID:a",
			"DTSTAMP:20250301T000000Z",
			"DTSTART:20250310T090000Z",
			"DTEND:20250310T100000Z",
			"SUMMARY:Checkup",
			"END:VEVENT",
			"BEGIN:VEVENT",
			"UID:far",
			"DTSTAMP:20250301T000000Z",
			"DTSTART:20250501T090000Z",
			"DTEND:20250501T100000Z",
			"SUMMARY:Out of window",
			"END:VEVENT",
		),
	}}

	book := store.NewBook()
	book.ReplaceSource("clinic", []model.Event{{ID: "stale", Start: time.Now(), End: time.Now()}})

	r := New(cfg, time.UTC, fetcher, book)
	r.now = func() time.Time { return time.Date(2025, time.March, 9, 12, 0, 0, 0, time.UTC) }

	stats, err := r.RunOnce(context.Background())
	if err == nil {
		t.Error("expected joined error for unreachable feed")
	}
	if stats.Sources != 2 || stats.Failed != 1 || stats.Events != 1 {
		t.Errorf("stats = %+v", stats)
	}

	if _, err := book.Get("stale"); !errors.Is(err, store.ErrNotFound) {
		t.Error("stale event not replaced")
	}
	got, err := book.Get("clinic:a")
	if err != nil {
		t.Fatalf("Get(a): %v", err)
	}
	if got.SourceID != "clinic" || got.Title != "Checkup" {
		t.Errorf("a = %+v", got)
	}
	if r.Last().Events != 1 {
		t.Errorf("Last() = %+v", r.Last())
	}
}

func TestRunOnce_FeedsSharingUIDStayApart(t *testing.T) {
	t.Parallel()

	meeting := feed(
		"BEGIN:VEVENT",
		"UID:meet",
		"DTSTAMP:20250301T000000Z",
		"DTSTART:20250310T120000Z",
		"DTEND:20250310T130000Z",
		"SUMMARY:Staff meeting",
		"END:VEVENT",
	)
	cfg := testConfig(
		config.ICSConfig{ID: "drA", URL: "https://example.com/a.ics"},
		config.ICSConfig{ID: "drB", URL: "https://example.com/b.ics"},
	)
	fetcher := &fakeFetcher{bodies: map[string][]byte{"drA": meeting, "drB": meeting}}

	book := store.NewBook()
	if _, err := book.Create(model.Event{ID: "meet", Title: "Walk-in", Start: time.Now(), End: time.Now()}); err != nil {
		t.Fatal(err)
	}

	r := New(cfg, time.UTC, fetcher, book)
	r.now = func() time.Time { return time.Date(2025, time.March, 9, 12, 0, 0, 0, time.UTC) }
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if book.Len() != 3 {
		t.Fatalf("Len = %d, want 3", book.Len())
	}

	fetcher.bodies["drB"] = feed()
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	for _, id := range []string{"meet", "drA:meet"} {
		if _, err := book.Get(id); err != nil {
			t.Errorf("Get(%s) after drB emptied: %v", id, err)
		}
	}
	if _, err := book.Get("drB:meet"); !errors.Is(err, store.ErrNotFound) {
		t.Error("drB:meet survived an empty drB feed")
	}
}

func TestRunOnce_BadFeedKeepsPreviousEvents(t *testing.T) {
	t.Parallel()

	cfg := testConfig(config.ICSConfig{ID: "clinic", URL: "https://example.com/clinic.ics"})
	fetcher := &fakeFetcher{bodies: map[string][]byte{"clinic": {}}}

	book := store.NewBook()
	book.ReplaceSource("clinic", []model.Event{{ID: "keep", Start: time.Now(), End: time.Now()}})

	r := New(cfg, time.UTC, fetcher, book)
	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Error("expected parse error")
	}
	if _, err := book.Get("keep"); err != nil {
		t.Error("previous events dropped after failed parse")
	}
}

func TestStart_RejectsBadCron(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RefreshCron = "every now and then"

	r := New(cfg, time.UTC, &fakeFetcher{}, store.NewBook())
	if err := r.Start(context.Background()); err == nil {
		t.Error("expected error for invalid cron spec")
	}
}

func TestStart_RunsImmediately(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	fetcher := &fakeFetcher{}
	r := New(cfg, time.UTC, fetcher, store.NewBook())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.Last().Finished.IsZero() {
		if time.Now().After(deadline) {
			t.Fatal("initial refresh did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
