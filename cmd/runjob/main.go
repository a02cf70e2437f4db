// Command runjob runs one batch job, or the whole pipeline, once and exits.
// It uses the same job service as the worker's HTTP endpoints.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"footballtips/predictions/internal/cache"
	"footballtips/predictions/internal/client"
	"footballtips/predictions/internal/config"
	"footballtips/predictions/internal/jobs"
	"footballtips/predictions/internal/patterns"
	"footballtips/predictions/internal/repository"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// pipeline is the order jobs run in for -job all
var pipeline = []string{jobs.JobSync, jobs.JobTeamStats, jobs.JobPatterns, jobs.JobPredict, jobs.JobSettle}

func main() {
	job := flag.String("job", "all", "job to run: "+strings.Join(pipeline, ", ")+" or all")
	competition := flag.String("competition", "", "competition code; empty runs every configured competition")
	mode := flag.String("mode", patterns.ModeIncremental, "pattern build mode: full or incremental")
	featureSet := flag.String("feature-set", "", "pattern feature set; empty builds all")
	batchSize := flag.Int("batch-size", 0, "rows per batch; 0 uses MAX_BATCH_SIZE")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.MustLoad()

	if cfg.AutoMigrate {
		if err := repository.Migrate(cfg.DatabaseDSN()); err != nil {
			log.Fatal().Err(err).Msg("Failed to run database migrations")
		}
	}

	db, err := repository.NewDatabase(ctx, cfg.DatabaseConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Validate database connectivity
	if err := db.Health(ctx); err != nil {
		log.Fatal().Err(err).Msg("Database health check failed")
	}

	var feed jobs.Feed
	if cfg.FeedAPIKey != "" {
		feed = client.NewClient(cfg.FeedBaseURL, cfg.FeedAPIKey, client.Options{
			Timeout:        cfg.FeedTimeout,
			RequestsPerSec: cfg.FeedRateLimit,
		})
	}

	// Cached reads are not served here, so invalidation is the only cache work
	var predictionCache cache.PredictionCache = cache.Nop{}
	if rc, err := cache.NewRedisCache(cache.Config{Host: cfg.RedisHost, Port: cfg.RedisPort, Password: cfg.RedisPassword, DB: cfg.RedisDB}); err == nil {
		defer rc.Close()
		predictionCache = rc
	}

	svc := jobs.NewService(jobs.StoresFrom(db), feed, predictionCache, cfg.JobsConfig())

	competitions := cfg.Competitions
	if *competition != "" {
		competitions = []string{strings.ToUpper(*competition)}
	}

	names := pipeline
	if *job != "all" {
		names = []string{*job}
	}

	failed := 0
	for _, name := range names {
		if name == jobs.JobSync && feed == nil {
			log.Warn().Msg("FEED_API_KEY not set - skipping feed sync")
			continue
		}
		reports, err := runOne(ctx, cfg, svc, name, competitions, *mode, *featureSet, *batchSize)
		for _, r := range reports {
			printReport(r)
		}
		if err != nil {
			log.Error().Err(err).Str("job", name).Msg("Job failed")
			failed++
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// runOne runs a job for every competition it applies to, following pages until done
func runOne(ctx context.Context, cfg *config.Config, svc *jobs.Service, name string, competitions []string, mode, featureSet string, batchSize int) ([]*jobs.Report, error) {
	var reports []*jobs.Report

	call := func(req jobs.JobRequest) (*jobs.Report, error) {
		ctx, cancel := context.WithTimeout(ctx, cfg.JobTimeout)
		defer cancel()
		switch name {
		case jobs.JobSync:
			return svc.SyncFeed(ctx, req)
		case jobs.JobTeamStats:
			return svc.AggregateTeamStats(ctx, req)
		case jobs.JobPatterns:
			return svc.BuildPatterns(ctx, req, mode, featureSet)
		case jobs.JobPredict:
			return svc.PredictUpcoming(ctx, req)
		case jobs.JobSettle:
			return svc.Settle(ctx, req)
		}
		return nil, fmt.Errorf("unknown job %q", name)
	}

	scopes := competitions
	switch name {
	case jobs.JobPatterns:
		// Feature sets span every competition
		scopes = []string{""}
	case jobs.JobSettle:
		if len(competitions) != 1 {
			scopes = []string{""}
		}
	}

	for _, comp := range scopes {
		req := jobs.JobRequest{Competition: comp, BatchSize: batchSize}
		for {
			report, err := call(req)
			if err != nil {
				return reports, err
			}
			reports = append(reports, report)
			if !report.HasMore {
				break
			}
			// Incremental pattern runs resume from the watermark, not an offset
			if name != jobs.JobPatterns {
				req.Offset = report.NextOffset
			}
		}
	}
	return reports, nil
}

func printReport(r *jobs.Report) {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode report")
		return
	}
	fmt.Println(string(out))
}
