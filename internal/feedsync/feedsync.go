// Package feedsync imports ICS feed occurrences into the event store,
// once or on a cron schedule.
package feedsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"calen/internal/config"
	"calen/internal/ics"
	appLog "calen/internal/log"
	"calen/internal/metrics"
	"calen/internal/model"
	"calen/internal/store"
)

// Feed is one configured subscription with its resolved rigidity.
type Feed struct {
	Source   ics.Source
	Rigidity model.Rigidity
}

// FeedsFromConfig converts config feeds, rejecting unknown rigidities.
func FeedsFromConfig(cfgs []config.FeedConfig) ([]Feed, error) {
	feeds := make([]Feed, 0, len(cfgs))
	for _, fc := range cfgs {
		r, err := model.ParseRigidity(fc.Rigidity)
		if err != nil {
			return nil, fmt.Errorf("feed %q: %w", fc.ID, err)
		}
		feeds = append(feeds, Feed{Source: ics.Source{ID: fc.ID, URL: fc.URL}, Rigidity: r})
	}
	return feeds, nil
}

// Report summarizes one sync run.
type Report struct {
	Imported int // new events created
	Skipped  int // occurrences imported by an earlier run
	Errors   []error
}

// Syncer pulls feeds into a FeedStore.
type Syncer struct {
	store    store.FeedStore
	fetcher  *ics.Fetcher
	feeds    []Feed
	loc      *time.Location
	horizon  time.Duration
	backfill time.Duration
	from, to time.Time
	singles  bool
	now      func() time.Time

	// mu serializes runs; a cron tick and a manual trigger must not
	// import the same occurrence twice.
	mu sync.Mutex
}

// Options configures a Syncer.
type Options struct {
	Location     *time.Location
	HorizonDays  int
	BackfillDays int
	// From / To replace the now-relative window when set.
	From, To time.Time
	// KeepSingles imports non-recurring events whatever their date.
	KeepSingles bool
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a Syncer.
func New(s store.FeedStore, fetcher *ics.Fetcher, feeds []Feed, opts Options) *Syncer {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 90
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{
		store:    s,
		fetcher:  fetcher,
		feeds:    feeds,
		loc:      opts.Location,
		horizon:  time.Duration(opts.HorizonDays) * 24 * time.Hour,
		backfill: time.Duration(opts.BackfillDays) * 24 * time.Hour,
		from:     opts.From,
		to:       opts.To,
		singles:  opts.KeepSingles,
		now:      opts.Now,
	}
}

// Feeds returns the configured feeds.
func (s *Syncer) Feeds() []Feed {
	return s.feeds
}

// RunOnce fetches, expands and imports every feed. Per-feed failures are
// collected in the report; the error is non-nil only when the context
// ends or the store fails.
func (s *Syncer) RunOnce(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report Report
	window, err := s.window()
	if err != nil {
		return report, err
	}

	for _, feed := range s.feeds {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		imported, skipped, err := s.syncFeed(ctx, feed, window)
		metrics.ObserveSync(feed.Source.ID, imported, err)
		report.Imported += imported
		report.Skipped += skipped
		if err != nil {
			if isFatal(ctx, err) {
				return report, err
			}
			report.Errors = append(report.Errors, err)
			appLog.Error("feed sync failed", err, "id", feed.Source.ID)
			continue
		}
		appLog.Info("feed synced", "id", feed.Source.ID, "imported", imported, "skipped", skipped)
	}
	return report, nil
}

func (s *Syncer) window() (ics.ExpandConfig, error) {
	now := s.now().In(s.loc)
	w := ics.ExpandConfig{
		DisplayLocation: s.loc,
		RangeStart:      now.Add(-s.backfill),
		RangeEnd:        now.Add(s.horizon),
		KeepSingles:     s.singles,
	}
	if !s.from.IsZero() {
		w.RangeStart = s.from
	}
	if !s.to.IsZero() {
		w.RangeEnd = s.to
	}
	if w.RangeEnd.Before(w.RangeStart) {
		return w, fmt.Errorf("sync window ends %s before it starts %s",
			model.FormatDay(w.RangeEnd), model.FormatDay(w.RangeStart))
	}
	return w, nil
}

func (s *Syncer) syncFeed(ctx context.Context, feed Feed, window ics.ExpandConfig) (imported, skipped int, err error) {
	res, err := s.fetcher.FetchOne(ctx, feed.Source)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch %s: %w", feed.Source.ID, err)
	}
	parsed, err := ics.ParseICS(feed.Source, res.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("parse %s: %w", feed.Source.ID, err)
	}
	expanded, err := ics.ExpandOccurrences(parsed, window)
	if err != nil {
		return 0, 0, fmt.Errorf("expand %s: %w", feed.Source.ID, err)
	}

	for _, occ := range expanded.Occurrences {
		_, inserted, err := s.store.ImportOccurrence(ctx, feed.Source.ID, occ.InstanceKey, occ.Event(feed.Rigidity))
		if err != nil {
			return imported, skipped, &storeError{err: err}
		}
		if inserted {
			imported++
		} else {
			skipped++
		}
	}
	return imported, skipped, nil
}

type storeError struct{ err error }

func (e *storeError) Error() string { return "import occurrence: " + e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

func isFatal(ctx context.Context, err error) bool {
	var se *storeError
	return ctx.Err() != nil || errors.As(err, &se)
}

// Run schedules RunOnce with a standard five-field cron spec until ctx is
// cancelled. An immediate run happens first.
func (s *Syncer) Run(ctx context.Context, spec string) error {
	c := cron.New(cron.WithLocation(s.loc))
	if _, err := c.AddFunc(spec, func() { s.runLogged(ctx) }); err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}

	s.runLogged(ctx)
	c.Start()
	appLog.Info("feed sync scheduled", "cron", spec, "feeds", len(s.feeds))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Syncer) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		appLog.Error("feed sync run aborted", err)
	}
}
