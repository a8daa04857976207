package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"santecal/internal/config"
	"santecal/internal/ics"
	appLog "santecal/internal/log"
	"santecal/internal/model"
)

// Sink receives the expanded events of one feed.
type Sink interface {
	ReplaceSource(sourceID string, events []model.Event)
}

// Fetcher is satisfied by *ics.Fetcher.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) ([]ics.FetchResult, []error)
}

// Stats summarizes one refresh run.
type Stats struct {
	Sources   int
	Failed    int
	Events    int
	Truncated []string
	Finished  time.Time
}

// Refresher pulls every configured feed into a Sink, once or on a cron
// schedule.
type Refresher struct {
	cfg     *config.Config
	loc     *time.Location
	fetcher Fetcher
	sink    Sink
	now     func() time.Time

	mu   sync.Mutex // serializes runs
	last Stats
}

func New(cfg *config.Config, loc *time.Location, fetcher Fetcher, sink Sink) *Refresher {
	if loc == nil {
		loc = time.Local
	}
	return &Refresher{
		cfg:     cfg,
		loc:     loc,
		fetcher: fetcher,
		sink:    sink,
		now:     time.Now,
	}
}

// Last returns the stats of the most recent completed run.
func (r *Refresher) Last() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// RunOnce fetches, parses and expands all feeds over
// [today - BackfillDays, today + HorizonDays] and replaces each feed's
// events in the sink. A feed that fails to fetch or parse keeps its
// previous events. The returned error joins all per-feed failures.
func (r *Refresher) RunOnce(ctx context.Context) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sources := make([]ics.Source, 0, len(r.cfg.ICS))
	for _, c := range r.cfg.ICS {
		if c.URL == "" {
			continue
		}
		sources = append(sources, ics.Source{ID: c.SourceID(), URL: c.URL})
	}

	now := r.now().In(r.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc)
	expandCfg := ics.ExpandConfig{
		DisplayLocation: r.loc,
		RangeStart:      today.AddDate(0, 0, -r.cfg.BackfillDays),
		RangeEnd:        today.AddDate(0, 0, r.cfg.HorizonDays),
		DefaultDuration: time.Duration(r.cfg.DefaultDurationMinutes) * time.Minute,
	}

	stats := Stats{Sources: len(sources)}
	results, errs := r.fetcher.FetchAll(ctx, sources)
	stats.Failed = len(errs)

	for _, res := range results {
		parsed, err := ics.ParseICS(res.Source, res.Body)
		if err != nil {
			stats.Failed++
			errs = append(errs, fmt.Errorf("refresh: parse %s: %w", res.Source.ID, err))
			continue
		}
		expanded, err := ics.ExpandEvents(parsed, expandCfg)
		if err != nil {
			stats.Failed++
			errs = append(errs, fmt.Errorf("refresh: expand %s: %w", res.Source.ID, err))
			continue
		}
		r.sink.ReplaceSource(res.Source.ID, expanded.Events)
		stats.Events += len(expanded.Events)
		stats.Truncated = append(stats.Truncated, expanded.TruncatedEvents...)
	}

	stats.Finished = r.now()
	r.last = stats

	appLog.Info("refresh completed",
		"sources", stats.Sources,
		"failed", stats.Failed,
		"events", stats.Events,
		"range_start", expandCfg.RangeStart.Format(time.DateOnly),
		"range_end", expandCfg.RangeEnd.Format(time.DateOnly),
	)
	return stats, errors.Join(errs...)
}

// Start runs RunOnce immediately and then on the configured cron schedule
// until ctx is canceled. It returns once the schedule is installed.
func (r *Refresher) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(r.loc))
	if _, err := c.AddFunc(r.cfg.RefreshCron, func() { r.run(ctx) }); err != nil {
		return fmt.Errorf("refresh: invalid cron spec %q: %w", r.cfg.RefreshCron, err)
	}

	go r.run(ctx)
	c.Start()
	appLog.Info("refresh scheduled", "cron", r.cfg.RefreshCron, "timezone", r.loc.String())

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Info("refresh scheduler stopped")
	}()
	return nil
}

func (r *Refresher) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := r.RunOnce(ctx); err != nil {
		appLog.Error("refresh finished with errors", err)
	}
}
