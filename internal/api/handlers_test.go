package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"footballtips/predictions/internal/jobs"
	"footballtips/predictions/internal/models"
	"footballtips/predictions/internal/predictor"
	"footballtips/predictions/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	lastReq       jobs.JobRequest
	lastMode      string
	lastFeature   string
	lastInputs    []models.MatchInput
	lastCandidate models.Candidate
	result        *predictor.Result
	stored        *models.Prediction
	err           error
	sawDeadline   bool
}

func (s *stubService) report(ctx context.Context, job string, req jobs.JobRequest) (*jobs.Report, error) {
	_, s.sawDeadline = ctx.Deadline()
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &jobs.Report{RunID: "run-1", Job: job, Competition: req.Competition, Processed: 3, Succeeded: 3, Failures: []jobs.RowFailure{}}, nil
}

func (s *stubService) IngestMatches(ctx context.Context, inputs []models.MatchInput) (*jobs.Report, error) {
	s.lastInputs = inputs
	return s.report(ctx, jobs.JobIngest, jobs.JobRequest{})
}

func (s *stubService) AggregateTeamStats(ctx context.Context, req jobs.JobRequest) (*jobs.Report, error) {
	return s.report(ctx, jobs.JobTeamStats, req)
}

func (s *stubService) BuildPatterns(ctx context.Context, req jobs.JobRequest, mode, featureSet string) (*jobs.Report, error) {
	s.lastMode, s.lastFeature = mode, featureSet
	return s.report(ctx, jobs.JobPatterns, req)
}

func (s *stubService) PredictUpcoming(ctx context.Context, req jobs.JobRequest) (*jobs.Report, error) {
	return s.report(ctx, jobs.JobPredict, req)
}

func (s *stubService) Settle(ctx context.Context, req jobs.JobRequest) (*jobs.Report, error) {
	return s.report(ctx, jobs.JobSettle, req)
}

func (s *stubService) SyncFeed(ctx context.Context, req jobs.JobRequest) (*jobs.Report, error) {
	return s.report(ctx, jobs.JobSync, req)
}

func (s *stubService) PredictMatch(_ context.Context, matchID string) (*predictor.Result, *models.Prediction, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.result, s.stored, nil
}

func (s *stubService) PredictCandidate(_ context.Context, c models.Candidate) (*predictor.Result, error) {
	s.lastCandidate = c
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubService) GetPrediction(_ context.Context, matchID string) (*models.Prediction, error) {
	if s.stored == nil || s.stored.MatchID != matchID {
		return nil, fmt.Errorf("prediction for match %s: %w", matchID, repository.ErrNotFound)
	}
	return s.stored, nil
}

func (s *stubService) Accuracy(context.Context) ([]models.AccuracyCounter, error) {
	return []models.AccuracyCounter{
		{Scope: models.ScopeAll, Settled: 4, Correct: 3, CurrentStreak: 2, BestStreak: 2},
		{Scope: "PL", Settled: 4, Correct: 3},
	}, nil
}

type stubHealth struct{ err error }

func (h stubHealth) Health(context.Context) error { return h.err }

func okResult() *predictor.Result {
	return &predictor.Result{
		Status:     models.StatusOK,
		Probs:      models.Triple{Home: 0.5, Draw: 0.3, Away: 0.2},
		Pick:       models.OutcomeHome,
		Grade:      models.GradeMedium,
		Estimates:  []models.Estimate{{Method: models.MethodOdds, Probs: models.Triple{Home: 0.5, Draw: 0.3, Away: 0.2}, Weight: 1.5}},
		Exclusions: []models.Exclusion{{Method: models.MethodForm, Reason: "home team has insufficient history"}},
	}
}

func serve(t *testing.T, svc Service, health HealthChecker, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewHandler(svc, health, 5*time.Second, 10).SetupRoutes()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	rec := serve(t, &stubService{}, stubHealth{}, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	rec = serve(t, &stubService{}, stubHealth{err: errors.New("pool closed")}, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJobRoutes_PassQueryParameters(t *testing.T) {
	svc := &stubService{}

	rec := serve(t, svc, stubHealth{}, http.MethodPost, "/api/jobs/predict?competition=PL&offset=50&batch_size=25", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jobs.JobRequest{Competition: "PL", Offset: 50, BatchSize: 25}, svc.lastReq)
	assert.True(t, svc.sawDeadline, "job timeout applied to the request context")

	body := decodeBody(t, rec)
	assert.Equal(t, jobs.JobPredict, body["job"])
	assert.Equal(t, "run-1", body["run_id"])

	rec = serve(t, svc, stubHealth{}, http.MethodPost, "/api/jobs/patterns?mode=full&feature_set=home_venue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "full", svc.lastMode)
	assert.Equal(t, "home_venue", svc.lastFeature)

	for _, path := range []string{"/api/jobs/team-stats", "/api/jobs/settle", "/api/jobs/sync"} {
		rec = serve(t, svc, stubHealth{}, http.MethodPost, path+"?competition=PL", "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestJobRoutes_RejectBadPaging(t *testing.T) {
	rec := serve(t, &stubService{}, stubHealth{}, http.MethodPost, "/api/jobs/settle?batch_size=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, &stubService{}, stubHealth{}, http.MethodPost, "/api/jobs/settle?offset=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobRoutes_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: competition is required", jobs.ErrBadRequest), http.StatusBadRequest},
		{jobs.ErrFeedDisabled, http.StatusServiceUnavailable},
		{fmt.Errorf("failed to load settled matches: %w", errors.New("connection refused")), http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		rec := serve(t, &stubService{err: tc.err}, stubHealth{}, http.MethodPost, "/api/jobs/team-stats", "")
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
		assert.Contains(t, decodeBody(t, rec)["error"], tc.err.Error())
	}
}

func TestIngest(t *testing.T) {
	svc := &stubService{}
	body := `{"matches": [{"match_id": "m1", "competition": "PL", "kickoff": "2025-09-01T19:45:00Z",
		"home_team": "ARS", "away_team": "CHE", "status": "final", "home_goals": 2, "away_goals": 1}]}`

	rec := serve(t, svc, stubHealth{}, http.MethodPost, "/api/matches", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.lastInputs, 1)
	assert.Equal(t, "ARS", svc.lastInputs[0].HomeTeam)

	rec = serve(t, svc, stubHealth{}, http.MethodPost, "/api/matches", `{"matches": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, svc, stubHealth{}, http.MethodPost, "/api/matches", `{"matches": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	many := make([]string, 11)
	for i := range many {
		many[i] = fmt.Sprintf(`{"match_id": "m%d"}`, i)
	}
	rec = serve(t, svc, stubHealth{}, http.MethodPost, "/api/matches", `{"matches": [`+strings.Join(many, ",")+`]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPredictMatch(t *testing.T) {
	stored := &models.Prediction{MatchID: "m1", ModelVersion: "blend-v3", CreatedAt: time.Now().UTC()}
	svc := &stubService{result: okResult(), stored: stored}

	rec := serve(t, svc, stubHealth{}, http.MethodPost, "/api/predict", `{"match_id": "m1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, models.StatusOK, body["status"])
	assert.Equal(t, "home", body["pick"])
	assert.Equal(t, true, body["stored"])

	rec = serve(t, svc, stubHealth{}, http.MethodPost, "/api/predict", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = fmt.Errorf("%w: m1", repository.ErrPredictionSettled)
	rec = serve(t, svc, stubHealth{}, http.MethodPost, "/api/predict", `{"match_id": "m1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	svc.err = fmt.Errorf("match zz: %w", repository.ErrNotFound)
	rec = serve(t, svc, stubHealth{}, http.MethodPost, "/api/predict", `{"match_id": "zz"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPredictMatch_InsufficientDataIsNotAnError(t *testing.T) {
	svc := &stubService{result: &predictor.Result{
		Status:     models.StatusInsufficientData,
		Estimates:  []models.Estimate{},
		Exclusions: []models.Exclusion{{Method: models.MethodOdds, Reason: "no odds recorded"}},
	}}

	rec := serve(t, svc, stubHealth{}, http.MethodPost, "/api/predict", `{"match_id": "m2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, models.StatusInsufficientData, body["status"])
	assert.Nil(t, body["probs"])
	assert.Equal(t, false, body["stored"])
	assert.Len(t, body["exclusions"], 1)
}

func TestPredictCandidate(t *testing.T) {
	svc := &stubService{result: okResult()}
	body := `{"competition": "pl", "home_team": "ARS", "away_team": "CHE",
		"kickoff": "2025-10-04T14:00:00Z", "odds": {"home": 2.1, "draw": 3.4, "away": 3.6}}`

	rec := serve(t, svc, stubHealth{}, http.MethodPost, "/api/predict-v2", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PL", svc.lastCandidate.Competition)
	require.NotNil(t, svc.lastCandidate.Odds)
	assert.InDelta(t, 3.4, svc.lastCandidate.Odds.Draw, 1e-9)
	assert.Equal(t, false, decodeBody(t, rec)["stored"])

	rec = serve(t, svc, stubHealth{}, http.MethodPost, "/api/predict-v2", `{"competition": "PL", "home_team": "ARS", "away_team": "ARS"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, svc, stubHealth{}, http.MethodPost, "/api/predict-v2", `{"competition": "PL", "home_team": "ARS", "away_team": "CHE", "kickoff": "soon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPrediction(t *testing.T) {
	stored := &models.Prediction{
		MatchID: "m1", ProbHome: 0.5, ProbDraw: 0.3, ProbAway: 0.2,
		Pick: models.OutcomeHome, Grade: models.GradeHigh,
		Estimates: json.RawMessage(`[]`), Exclusions: json.RawMessage(`[]`),
	}
	stored.Result.String, stored.Result.Valid = models.ResultCorrect, true
	stored.Outcome.String, stored.Outcome.Valid = "home", true
	svc := &stubService{stored: stored}

	rec := serve(t, svc, stubHealth{}, http.MethodGet, "/api/predictions/m1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "high", body["grade"])
	settlement, ok := body["settlement"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, models.ResultCorrect, settlement["result"])

	rec = serve(t, svc, stubHealth{}, http.MethodGet, "/api/predictions/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccuracy(t *testing.T) {
	rec := serve(t, &stubService{}, stubHealth{}, http.MethodGet, "/api/accuracy", "")
	require.Equal(t, http.StatusOK, rec.Code)

	counters, ok := decodeBody(t, rec)["counters"].([]any)
	require.True(t, ok)
	require.Len(t, counters, 2)
	all := counters[0].(map[string]any)
	assert.Equal(t, models.ScopeAll, all["scope"])
	assert.InDelta(t, 0.75, all["accuracy"], 1e-9)
}

func TestMethodNotAllowed(t *testing.T) {
	cases := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/api/jobs/settle"},
		{http.MethodGet, "/api/matches"},
		{http.MethodGet, "/api/predict"},
		{http.MethodPost, "/api/accuracy"},
		{http.MethodDelete, "/api/predictions/m1"},
	}
	for _, tc := range cases {
		rec := serve(t, &stubService{}, stubHealth{}, tc.method, tc.target, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", tc.method, tc.target)
	}

	rec := serve(t, &stubService{}, stubHealth{}, http.MethodGet, "/api/nothing-here", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
