package ingest

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

const (
	DefaultReadingInterval = 60 * time.Minute
	DefaultDailyAt         = "06:30"
)

// Scheduler polls the feed on a fixed interval and runs the daily jobs once
// a day at a local wall-clock time.
type Scheduler struct {
	ingester        *Ingester
	daily           *DailyJobs
	loc             *time.Location
	readingInterval time.Duration
	dailyAt         string
	cron            *gocron.Scheduler
	log             *zap.SugaredLogger
}

func NewScheduler(ingester *Ingester, daily *DailyJobs, loc *time.Location, log *zap.SugaredLogger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scheduler{
		ingester:        ingester,
		daily:           daily,
		loc:             loc,
		readingInterval: DefaultReadingInterval,
		dailyAt:         DefaultDailyAt,
		log:             log,
	}
}

// SetIntervals overrides the polling interval and the daily job time
// ("HH:MM" local). Zero values keep the defaults.
func (s *Scheduler) SetIntervals(reading time.Duration, dailyAt string) {
	if reading > 0 {
		s.readingInterval = reading
	}
	if dailyAt != "" {
		s.dailyAt = dailyAt
	}
}

// Run ingests once, then keeps the jobs scheduled until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron = gocron.NewScheduler(s.loc)
	s.cron.SingletonModeAll()

	if _, err := s.cron.Every(s.readingInterval).Do(s.ingestReadings, ctx); err != nil {
		return err
	}
	if _, err := s.cron.Every(1).Day().At(s.dailyAt).WaitForSchedule().Do(s.runDaily, ctx); err != nil {
		return err
	}

	s.log.Infow("scheduler: started", "reading_interval", s.readingInterval, "daily_at", s.dailyAt)
	s.cron.StartAsync()
	<-ctx.Done()
	s.cron.Stop()
	s.log.Info("scheduler: shutting down")
	return nil
}

// IngestOnce performs a single feed poll.
func (s *Scheduler) IngestOnce(ctx context.Context) error {
	n, err := s.ingester.IngestReadings(ctx)
	if err != nil {
		return err
	}
	s.log.Infow("scheduler: ingested readings", "new", n)
	return nil
}

// RunDailyJobs runs the daily jobs for yesterday.
func (s *Scheduler) RunDailyJobs(ctx context.Context) error {
	yesterday := time.Now().In(s.loc).AddDate(0, 0, -1)
	return s.daily.RunAll(ctx, yesterday)
}

func (s *Scheduler) ingestReadings(ctx context.Context) {
	if _, err := s.ingester.IngestReadings(ctx); err != nil {
		s.log.Warnw("scheduler: ingest readings", "error", err)
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	if err := s.RunDailyJobs(ctx); err != nil {
		s.log.Warnw("scheduler: daily jobs", "error", err)
	}
}
