package models

import "time"

// PatternBucket holds historical outcome counts for one feature code.
// Counts are from the bucket's perspective side (win = that side won).
type PatternBucket struct {
	FeatureSet string    `db:"feature_set" json:"feature_set"`
	Code       string    `db:"code" json:"code"`
	Total      int       `db:"total" json:"total"`
	Wins       int       `db:"wins" json:"wins"`
	Draws      int       `db:"draws" json:"draws"`
	Losses     int       `db:"losses" json:"losses"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// PatternRates are win/draw/loss frequencies derived from bucket counts
type PatternRates struct {
	Win  float64 `json:"win"`
	Draw float64 `json:"draw"`
	Loss float64 `json:"loss"`
}

// Rates derives the frequencies from the counts; an empty bucket yields zeros
func (b *PatternBucket) Rates() PatternRates {
	if b.Total == 0 {
		return PatternRates{}
	}
	total := float64(b.Total)
	return PatternRates{
		Win:  float64(b.Wins) / total,
		Draw: float64(b.Draws) / total,
		Loss: float64(b.Losses) / total,
	}
}

// Add folds another set of counts into the bucket
func (b *PatternBucket) Add(c OutcomeCounts) {
	b.Wins += c.Wins
	b.Draws += c.Draws
	b.Losses += c.Losses
	b.Total += c.Wins + c.Draws + c.Losses
}

// Consistent reports whether total equals the sum of the outcome counts
func (b *PatternBucket) Consistent() bool {
	return b.Total == b.Wins+b.Draws+b.Losses
}

// HomeTriple maps the bucket to home/draw/away probabilities given the perspective side
func (b *PatternBucket) HomeTriple(perspective Side) Triple {
	r := b.Rates()
	if perspective == SideAway {
		return Triple{Home: r.Loss, Draw: r.Draw, Away: r.Win}
	}
	return Triple{Home: r.Win, Draw: r.Draw, Away: r.Loss}
}

// OutcomeCounts is a delta of win/draw/loss observations
type OutcomeCounts struct {
	Wins   int `json:"wins"`
	Draws  int `json:"draws"`
	Losses int `json:"losses"`
}

// Total returns the number of observations in the delta
func (c OutcomeCounts) Total() int {
	return c.Wins + c.Draws + c.Losses
}

// PatternWatermark marks the highest settlement sequence folded into a feature set
type PatternWatermark struct {
	FeatureSet string    `db:"feature_set" json:"feature_set"`
	LastSeq    int64     `db:"last_seq" json:"last_seq"`
	Mode       string    `db:"mode" json:"mode"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
