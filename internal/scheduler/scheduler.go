package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"footballtips/predictions/internal/config"
	"footballtips/predictions/internal/jobs"
	"footballtips/predictions/internal/patterns"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// maxPages bounds how many batches one tick runs for a paged job
const maxPages = 20

// Runner is the job service the scheduler triggers
type Runner interface {
	AggregateTeamStats(ctx context.Context, req jobs.JobRequest) (*jobs.Report, error)
	BuildPatterns(ctx context.Context, req jobs.JobRequest, mode, featureSet string) (*jobs.Report, error)
	PredictUpcoming(ctx context.Context, req jobs.JobRequest) (*jobs.Report, error)
	Settle(ctx context.Context, req jobs.JobRequest) (*jobs.Report, error)
	SyncFeed(ctx context.Context, req jobs.JobRequest) (*jobs.Report, error)
}

// Scheduler runs the batch jobs on cron schedules, for every configured competition.
// The same jobs are reachable over HTTP for an external scheduler.
type Scheduler struct {
	cfg     *config.Config
	runner  Runner
	cron    *cron.Cron
	syncing bool
	wg      sync.WaitGroup
}

type entry struct {
	name     string
	schedule string
	fn       func(context.Context)
}

// NewScheduler creates a new scheduler instance. Feed sync is only scheduled when syncFeed is set.
func NewScheduler(cfg *config.Config, runner Runner, syncFeed bool) *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		cfg:     cfg,
		runner:  runner,
		syncing: syncFeed,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// Start registers the jobs and starts the cron scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	log.Info().Strs("competitions", s.cfg.Competitions).Msg("Scheduler starting...")

	entries := []entry{
		{jobs.JobTeamStats, s.cfg.TeamStatsCron, s.aggregateTeamStats},
		{jobs.JobPatterns, s.cfg.PatternsCron, s.buildPatterns},
		{jobs.JobPredict, s.cfg.PredictCron, s.predictUpcoming},
		{jobs.JobSettle, s.cfg.SettleCron, s.settle},
	}
	if s.syncing {
		entries = append(entries, entry{jobs.JobSync, s.cfg.FeedSyncCron, s.syncFeed})
	}

	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.schedule, func() { s.runJob(ctx, e.name, e.fn) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", e.name, err)
		}
		log.Info().Str("job", e.name).Str("schedule", e.schedule).Msg("Job scheduled")
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	log.Info().Msg("Stopping scheduler...")

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()

	log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) runJob(ctx context.Context, name string, fn func(context.Context)) {
	if ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	start := time.Now()
	log.Info().Str("job", name).Msg("Running scheduled job")
	fn(ctx)
	log.Info().Str("job", name).Dur("duration", time.Since(start)).Msg("Scheduled job finished")
}

// withTimeout runs one job call bounded by JOB_TIMEOUT
func (s *Scheduler) withTimeout(ctx context.Context, fn func(ctx context.Context) (*jobs.Report, error)) (*jobs.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	return fn(ctx)
}

// paged runs a job for one competition, following NextOffset until it reports no more rows
func (s *Scheduler) paged(ctx context.Context, competition string, fn func(ctx context.Context, req jobs.JobRequest) (*jobs.Report, error)) error {
	req := jobs.JobRequest{Competition: competition, BatchSize: s.cfg.MaxBatchSize}
	for page := 0; page < maxPages; page++ {
		report, err := s.withTimeout(ctx, func(ctx context.Context) (*jobs.Report, error) { return fn(ctx, req) })
		if err != nil {
			return err
		}
		if !report.HasMore {
			return nil
		}
		req.Offset = report.NextOffset
	}
	log.Warn().Str("competition", competition).Int("pages", maxPages).Msg("Page limit reached, remaining rows wait for the next run")
	return nil
}

func (s *Scheduler) aggregateTeamStats(ctx context.Context) {
	for _, comp := range s.cfg.Competitions {
		if err := s.paged(ctx, comp, s.runner.AggregateTeamStats); err != nil {
			log.Error().Err(err).Str("competition", comp).Msg("Team stats aggregation failed")
		}
	}
}

func (s *Scheduler) buildPatterns(ctx context.Context) {
	for _, name := range patterns.Names() {
		for page := 0; page < maxPages; page++ {
			report, err := s.withTimeout(ctx, func(ctx context.Context) (*jobs.Report, error) {
				return s.runner.BuildPatterns(ctx, jobs.JobRequest{}, patterns.ModeIncremental, name)
			})
			if err != nil {
				log.Error().Err(err).Str("feature_set", name).Msg("Pattern build failed")
				break
			}
			if !report.HasMore {
				break
			}
		}
	}
}

func (s *Scheduler) predictUpcoming(ctx context.Context) {
	for _, comp := range s.cfg.Competitions {
		if err := s.paged(ctx, comp, s.runner.PredictUpcoming); err != nil {
			log.Error().Err(err).Str("competition", comp).Msg("Upcoming prediction failed")
		}
	}
}

func (s *Scheduler) settle(ctx context.Context) {
	// Settled rows drop out of the pending list, so repeat until a batch comes back short
	for page := 0; page < maxPages; page++ {
		report, err := s.withTimeout(ctx, func(ctx context.Context) (*jobs.Report, error) {
			return s.runner.Settle(ctx, jobs.JobRequest{BatchSize: s.cfg.MaxBatchSize})
		})
		if err != nil {
			log.Error().Err(err).Msg("Settlement failed")
			return
		}
		if report.Processed < s.cfg.MaxBatchSize || report.Succeeded == 0 {
			return
		}
	}
}

func (s *Scheduler) syncFeed(ctx context.Context) {
	for _, comp := range s.cfg.Competitions {
		_, err := s.withTimeout(ctx, func(ctx context.Context) (*jobs.Report, error) {
			return s.runner.SyncFeed(ctx, jobs.JobRequest{Competition: comp})
		})
		if err != nil {
			log.Error().Err(err).Str("competition", comp).Msg("Feed sync failed")
		}
	}
}

// cronLogger routes cron's own logging through zerolog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
