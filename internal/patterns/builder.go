package patterns

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"footballtips/predictions/internal/models"

	"github.com/rs/zerolog/log"
)

// Run modes
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// ErrWatermarkMoved is returned when another run advanced the watermark
// between our read and our commit. Nothing from this run was applied.
var ErrWatermarkMoved = errors.New("pattern watermark moved")

// ErrUnknownFeature is returned for a feature set name that is not registered
var ErrUnknownFeature = errors.New("unknown feature set")

// BuilderConfig holds the parameters of a pattern build
type BuilderConfig struct {
	BatchSize int // settled matches read per page
}

// Store is the persistence the builder needs. Implementations must apply
// each write method atomically.
type Store interface {
	// GetWatermark returns the watermark of a feature set, zero valued if none exists
	GetWatermark(ctx context.Context, featureSet string) (*models.PatternWatermark, error)
	// ListSettledSince returns final matches with settled_seq > afterSeq ordered by settled_seq
	ListSettledSince(ctx context.Context, afterSeq int64, limit int) ([]models.MatchRecord, error)
	// ApplyDeltas adds counts to buckets and moves the watermark from expectedSeq to newSeq,
	// returning ErrWatermarkMoved when the stored watermark is no longer expectedSeq
	ApplyDeltas(ctx context.Context, featureSet string, deltas map[string]models.OutcomeCounts, expectedSeq, newSeq int64) error
	// ReplaceBuckets swaps every bucket of the feature set and sets the watermark
	ReplaceBuckets(ctx context.Context, featureSet string, buckets []models.PatternBucket, lastSeq int64) error
}

// RowFailure is a match that could not be folded into a bucket
type RowFailure struct {
	MatchID string `json:"match_id"`
	Reason  string `json:"reason"`
}

// RunReport summarises one builder run
type RunReport struct {
	FeatureSet   string       `json:"feature_set"`
	Mode         string       `json:"mode"`
	Processed    int          `json:"processed"`
	Observations int          `json:"observations"`
	Skipped      int          `json:"skipped"`
	Buckets      int          `json:"buckets"`
	FromSeq      int64        `json:"from_seq"`
	ToSeq        int64        `json:"to_seq"`
	More         bool         `json:"more"`
	Failures     []RowFailure `json:"failures,omitempty"`
}

// Builder folds settled matches into pattern buckets
type Builder struct {
	store Store
	cfg   BuilderConfig
}

// NewBuilder creates a pattern builder
func NewBuilder(store Store, cfg BuilderConfig) *Builder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &Builder{store: store, cfg: cfg}
}

// Run dispatches to Full or Incremental by mode
func (b *Builder) Run(ctx context.Context, featureSet, mode string) (*RunReport, error) {
	switch mode {
	case ModeFull:
		return b.Full(ctx, featureSet)
	case ModeIncremental, "":
		return b.Incremental(ctx, featureSet)
	}
	return nil, fmt.Errorf("unknown pattern build mode %q", mode)
}

// Full rescans every settled match and replaces all buckets of the feature set
func (b *Builder) Full(ctx context.Context, featureSet string) (*RunReport, error) {
	feature, ok := Lookup(featureSet)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeature, featureSet)
	}

	start := time.Now()
	report := &RunReport{FeatureSet: featureSet, Mode: ModeFull}
	tally := make(map[string]models.OutcomeCounts)

	var cursor int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := b.store.ListSettledSince(ctx, cursor, b.cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list settled matches: %w", err)
		}
		for _, m := range page {
			if !m.SettledSeq.Valid || m.SettledSeq.Int64 <= cursor {
				report.Skipped++
				continue
			}
			cursor = m.SettledSeq.Int64
			b.observe(feature, m, tally, report)
		}
		if len(page) < b.cfg.BatchSize {
			break
		}
	}

	buckets := make([]models.PatternBucket, 0, len(tally))
	for _, code := range sortedCodes(tally) {
		bucket := models.PatternBucket{FeatureSet: featureSet, Code: code}
		bucket.Add(tally[code])
		buckets = append(buckets, bucket)
	}

	if err := b.store.ReplaceBuckets(ctx, featureSet, buckets, cursor); err != nil {
		return nil, fmt.Errorf("failed to replace pattern buckets: %w", err)
	}

	report.Buckets = len(buckets)
	report.ToSeq = cursor

	log.Info().
		Str("feature_set", featureSet).
		Int("processed", report.Processed).
		Int("buckets", report.Buckets).
		Int64("watermark", cursor).
		Dur("duration", time.Since(start)).
		Msg("Full pattern recompute complete")

	return report, nil
}

// Incremental folds one batch of matches settled after the watermark into
// the buckets and advances the watermark in the same transaction.
func (b *Builder) Incremental(ctx context.Context, featureSet string) (*RunReport, error) {
	feature, ok := Lookup(featureSet)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeature, featureSet)
	}

	start := time.Now()
	wm, err := b.store.GetWatermark(ctx, featureSet)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern watermark: %w", err)
	}

	report := &RunReport{FeatureSet: featureSet, Mode: ModeIncremental, FromSeq: wm.LastSeq, ToSeq: wm.LastSeq}

	page, err := b.store.ListSettledSince(ctx, wm.LastSeq, b.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list settled matches: %w", err)
	}
	report.More = len(page) >= b.cfg.BatchSize

	tally := make(map[string]models.OutcomeCounts)
	next := wm.LastSeq
	for _, m := range page {
		// Already folded in; counting it again would double the bucket
		if !m.SettledSeq.Valid || m.SettledSeq.Int64 <= next {
			report.Skipped++
			continue
		}
		next = m.SettledSeq.Int64
		b.observe(feature, m, tally, report)
	}

	if next == wm.LastSeq {
		log.Debug().Str("feature_set", featureSet).Int64("watermark", next).Msg("No newly settled matches")
		return report, nil
	}

	if err := b.store.ApplyDeltas(ctx, featureSet, tally, wm.LastSeq, next); err != nil {
		if errors.Is(err, ErrWatermarkMoved) {
			log.Warn().Str("feature_set", featureSet).Int64("expected", wm.LastSeq).Msg("Pattern watermark moved, run discarded")
			return nil, err
		}
		return nil, fmt.Errorf("failed to apply pattern deltas: %w", err)
	}

	report.Buckets = len(tally)
	report.ToSeq = next

	log.Info().
		Str("feature_set", featureSet).
		Int("processed", report.Processed).
		Int("skipped", report.Skipped).
		Int64("from_seq", report.FromSeq).
		Int64("to_seq", report.ToSeq).
		Dur("duration", time.Since(start)).
		Msg("Incremental pattern build complete")

	return report, nil
}

func (b *Builder) observe(feature Feature, m models.MatchRecord, tally map[string]models.OutcomeCounts, report *RunReport) {
	report.Processed++
	for _, obs := range feature.Observe(m) {
		counts, err := Classify(m, obs.Perspective)
		if err != nil {
			report.Failures = append(report.Failures, RowFailure{MatchID: m.MatchID, Reason: err.Error()})
			return
		}
		cur := tally[obs.Code]
		cur.Wins += counts.Wins
		cur.Draws += counts.Draws
		cur.Losses += counts.Losses
		tally[obs.Code] = cur
		report.Observations++
	}
}

func sortedCodes(tally map[string]models.OutcomeCounts) []string {
	codes := make([]string, 0, len(tally))
	for code := range tally {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
