package ingest

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/lox/windcube/internal/models"
)

// Scheduler polls for new logs through the day and runs the daily jobs for
// the previous day once it is complete.
type Scheduler struct {
	loader      *Loader
	fetcher     *FTPFetcher // nil when logs arrive in the data dir by other means
	daily       *DailyJobs
	loc         *time.Location
	properties  []models.Property
	pollEvery   time.Duration
	dailyHour   int
	lastDailyOn string

	// rawLogRetention is how many days archived logs are kept; 0 keeps
	// them forever.
	rawLogRetention int
	now             func() time.Time
}

func NewScheduler(loader *Loader, fetcher *FTPFetcher, daily *DailyJobs, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		loader:     loader,
		fetcher:    fetcher,
		daily:      daily,
		loc:        loc,
		properties: []models.Property{models.PropertyWind, models.PropertyDBS},
		pollEvery:  10 * time.Minute,
		dailyHour:  1,
		now:        time.Now,
	}
}

// SetPollInterval changes how often logs are fetched and loaded.
func (s *Scheduler) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollEvery = d
	}
}

// SetRawLogRetention prunes archived logs older than days after each daily
// pass. Zero disables pruning.
func (s *Scheduler) SetRawLogRetention(days int) {
	if days >= 0 {
		s.rawLogRetention = days
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.IngestOnce(ctx)
	s.runDailyJobsIfNeeded(ctx)

	pollTicker := time.NewTicker(s.pollEvery)
	dailyTicker := time.NewTicker(1 * time.Hour)
	defer pollTicker.Stop()
	defer dailyTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-pollTicker.C:
			s.IngestOnce(ctx)
		case <-dailyTicker.C:
			s.runDailyJobsIfNeeded(ctx)
		}
	}
}

// IngestOnce fetches and loads today's logs. When new radial samples arrive
// today's retrieval is refreshed so the API serves current winds.
func (s *Scheduler) IngestOnce(ctx context.Context) {
	today := s.now().In(s.loc)

	for _, p := range s.properties {
		s.fetch(ctx, today, p)

		st, err := s.loader.LoadDay(today, p)
		if errors.Is(err, ErrNoLogFiles) {
			continue
		}
		if err != nil {
			log.Printf("scheduler: load %s: %v", p, err)
			continue
		}

		if p == models.PropertyWind && st.Stored > 0 && s.daily != nil {
			if _, err := s.daily.RunDay(today, p); err != nil {
				log.Printf("scheduler: refresh today's retrieval: %v", err)
			}
		}
	}
}

// fetch downloads a day's logs when an FTP server is configured. Failures
// are logged; whatever is in the data dir is still loaded.
func (s *Scheduler) fetch(ctx context.Context, date time.Time, p models.Property) {
	if s.fetcher == nil {
		return
	}
	if _, err := s.fetcher.Fetch(ctx, date, p); err != nil {
		if errors.Is(err, ErrNoLogFiles) {
			log.Printf("scheduler: no %s logs on server for %s", p, date.Format("2006-01-02"))
		} else {
			log.Printf("scheduler: fetch %s %s: %v", p, date.Format("2006-01-02"), err)
		}
	}
}

// runDailyJobsIfNeeded does the final fetch and load of yesterday, whose
// logs may have grown after the last poll before midnight, and runs its
// daily jobs once.
func (s *Scheduler) runDailyJobsIfNeeded(ctx context.Context) {
	localNow := s.now().In(s.loc)
	if localNow.Hour() < s.dailyHour || s.daily == nil {
		return
	}
	yesterday := localNow.AddDate(0, 0, -1)
	key := yesterday.Format("2006-01-02")
	if s.lastDailyOn == key {
		return
	}

	for _, p := range s.properties {
		s.fetch(ctx, yesterday, p)
		if _, err := s.loader.LoadDay(yesterday, p); err != nil && !errors.Is(err, ErrNoLogFiles) {
			log.Printf("scheduler: final load %s %s: %v", p, key, err)
		}
	}
	if err := s.daily.RunAll(yesterday); err != nil {
		log.Printf("scheduler: daily jobs for %s finished with errors", key)
	}
	s.lastDailyOn = key

	if s.rawLogRetention > 0 {
		n, err := s.loader.store.CleanupOldRawLogs(s.rawLogRetention)
		if err != nil {
			log.Printf("scheduler: prune raw logs: %v", err)
		} else if n > 0 {
			log.Printf("scheduler: pruned %d raw logs older than %d days", n, s.rawLogRetention)
		}
	}
}
