package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"footballtips/predictions/internal/models"
	"footballtips/predictions/internal/predictor"
)

type ingestRequest struct {
	Matches []models.MatchInput `json:"matches"`
}

type predictRequest struct {
	MatchID string `json:"match_id" validate:"required,max=64"`
}

// candidateRequest describes an ad-hoc fixture. Odds are optional; prices
// that are not above 1.0 exclude the odds estimate rather than the request.
type candidateRequest struct {
	MatchID     string       `json:"match_id" validate:"omitempty,max=64"`
	Competition string       `json:"competition" validate:"required,max=16"`
	Kickoff     string       `json:"kickoff" validate:"omitempty"`
	HomeTeam    string       `json:"home_team" validate:"required,max=64"`
	AwayTeam    string       `json:"away_team" validate:"required,max=64,nefield=HomeTeam"`
	Odds        *oddsRequest `json:"odds"`
}

type oddsRequest struct {
	Home float64 `json:"home" validate:"gte=0"`
	Draw float64 `json:"draw" validate:"gte=0"`
	Away float64 `json:"away" validate:"gte=0"`
}

func (c candidateRequest) toCandidate() (models.Candidate, error) {
	out := models.Candidate{
		MatchID:     c.MatchID,
		Competition: strings.ToUpper(c.Competition),
		HomeTeam:    c.HomeTeam,
		AwayTeam:    c.AwayTeam,
	}
	if c.Kickoff != "" {
		kickoff, err := time.Parse(time.RFC3339, c.Kickoff)
		if err != nil {
			return out, fmt.Errorf("invalid kickoff %q: %w", c.Kickoff, err)
		}
		out.Kickoff = kickoff.UTC()
	}
	if c.Odds != nil {
		out.Odds = &models.DecimalOdds{Home: c.Odds.Home, Draw: c.Odds.Draw, Away: c.Odds.Away}
	}
	return out, nil
}

type predictionResponse struct {
	MatchID      string             `json:"match_id,omitempty"`
	Status       string             `json:"status"`
	Probs        *models.Triple     `json:"probs,omitempty"`
	Pick         models.Outcome     `json:"pick,omitempty"`
	Grade        models.Grade       `json:"grade,omitempty"`
	Estimates    json.RawMessage    `json:"estimates"`
	Exclusions   json.RawMessage    `json:"exclusions"`
	Stored       bool               `json:"stored"`
	ModelVersion string             `json:"model_version,omitempty"`
	CreatedAt    *time.Time         `json:"created_at,omitempty"`
	Settlement   *settlementSummary `json:"settlement,omitempty"`
}

type settlementSummary struct {
	Result    string    `json:"result"`
	Outcome   string    `json:"outcome"`
	SettledAt time.Time `json:"settled_at"`
}

func newPredictionResponse(matchID string, res *predictor.Result, stored *models.Prediction) predictionResponse {
	out := predictionResponse{
		MatchID:    matchID,
		Status:     res.Status,
		Estimates:  mustJSON(res.Estimates),
		Exclusions: mustJSON(res.Exclusions),
	}
	if res.Sufficient() {
		probs := res.Probs
		out.Probs = &probs
		out.Pick = res.Pick
		out.Grade = res.Grade
	}
	if stored != nil {
		out.Stored = true
		out.ModelVersion = stored.ModelVersion
		out.CreatedAt = &stored.CreatedAt
	}
	return out
}

func newStoredPredictionResponse(p *models.Prediction) predictionResponse {
	probs := p.Probs()
	out := predictionResponse{
		MatchID:      p.MatchID,
		Status:       models.StatusOK,
		Probs:        &probs,
		Pick:         p.Pick,
		Grade:        p.Grade,
		Estimates:    p.Estimates,
		Exclusions:   p.Exclusions,
		Stored:       true,
		ModelVersion: p.ModelVersion,
		CreatedAt:    &p.CreatedAt,
	}
	if p.IsSettled() {
		out.Settlement = &settlementSummary{
			Result:    p.Result.String,
			Outcome:   p.Outcome.String,
			SettledAt: p.SettledAt.Time,
		}
	}
	return out
}

type accuracyResponse struct {
	models.AccuracyCounter
	Accuracy float64 `json:"accuracy"`
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("[]")
	}
	return b
}
