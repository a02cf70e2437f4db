package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"footballtips/predictions/internal/jobs"
	"footballtips/predictions/internal/metrics"
	"footballtips/predictions/internal/models"
	"footballtips/predictions/internal/patterns"
	"footballtips/predictions/internal/predictor"
	"footballtips/predictions/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Service is the job service the handlers drive
type Service interface {
	IngestMatches(ctx context.Context, inputs []models.MatchInput) (*jobs.Report, error)
	AggregateTeamStats(ctx context.Context, req jobs.JobRequest) (*jobs.Report, error)
	BuildPatterns(ctx context.Context, req jobs.JobRequest, mode, featureSet string) (*jobs.Report, error)
	PredictUpcoming(ctx context.Context, req jobs.JobRequest) (*jobs.Report, error)
	Settle(ctx context.Context, req jobs.JobRequest) (*jobs.Report, error)
	SyncFeed(ctx context.Context, req jobs.JobRequest) (*jobs.Report, error)
	PredictMatch(ctx context.Context, matchID string) (*predictor.Result, *models.Prediction, error)
	PredictCandidate(ctx context.Context, c models.Candidate) (*predictor.Result, error)
	GetPrediction(ctx context.Context, matchID string) (*models.Prediction, error)
	Accuracy(ctx context.Context) ([]models.AccuracyCounter, error)
}

// HealthChecker reports whether the database is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler serves the HTTP API
type Handler struct {
	svc        Service
	health     HealthChecker
	jobTimeout time.Duration
	maxIngest  int
	validate   *validator.Validate
}

// NewHandler creates the API handler. jobTimeout bounds every request.
func NewHandler(svc Service, health HealthChecker, jobTimeout time.Duration, maxIngest int) *Handler {
	if jobTimeout <= 0 {
		jobTimeout = 55 * time.Second
	}
	if maxIngest <= 0 {
		maxIngest = 500
	}
	return &Handler{
		svc:        svc,
		health:     health,
		jobTimeout: jobTimeout,
		maxIngest:  maxIngest,
		validate:   validator.New(),
	}
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.instrument)

	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/matches", h.handleIngest).Methods(http.MethodPost)

	// Batch jobs
	r.HandleFunc("/api/jobs/team-stats", h.handleTeamStats).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/patterns", h.handlePatterns).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/predict", h.handlePredictUpcoming).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/settle", h.handleSettle).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/sync", h.handleSync).Methods(http.MethodPost)

	// Predictions
	r.HandleFunc("/api/predict", h.handlePredictMatch).Methods(http.MethodPost)
	r.HandleFunc("/api/predict-v2", h.handlePredictCandidate).Methods(http.MethodPost)
	r.HandleFunc("/api/predictions/{matchID}", h.handleGetPrediction).Methods(http.MethodGet)
	r.HandleFunc("/api/accuracy", h.handleAccuracy).Methods(http.MethodGet)

	return r
}

// instrument applies the job timeout and records request metrics
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, cancel := context.WithTimeout(r.Context(), h.jobTimeout)
		defer cancel()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.RecordHTTPRequest(r.Method, route, rec.status, time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.health.Health(r.Context()); err != nil {
		log.Error().Err(err).Msg("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body ingestRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body.Matches) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("matches must not be empty"))
		return
	}
	if len(body.Matches) > h.maxIngest {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("at most %d matches per request", h.maxIngest))
		return
	}

	// Row validation happens in the job so one bad row does not reject the batch
	report, err := h.svc.IngestMatches(r.Context(), body.Matches)
	h.writeReport(w, report, err)
}

func (h *Handler) handleTeamStats(w http.ResponseWriter, r *http.Request) {
	req, ok := h.jobRequest(w, r)
	if !ok {
		return
	}
	report, err := h.svc.AggregateTeamStats(r.Context(), req)
	h.writeReport(w, report, err)
}

func (h *Handler) handlePatterns(w http.ResponseWriter, r *http.Request) {
	req, ok := h.jobRequest(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	report, err := h.svc.BuildPatterns(r.Context(), req, q.Get("mode"), q.Get("feature_set"))
	h.writeReport(w, report, err)
}

func (h *Handler) handlePredictUpcoming(w http.ResponseWriter, r *http.Request) {
	req, ok := h.jobRequest(w, r)
	if !ok {
		return
	}
	report, err := h.svc.PredictUpcoming(r.Context(), req)
	h.writeReport(w, report, err)
}

func (h *Handler) handleSettle(w http.ResponseWriter, r *http.Request) {
	req, ok := h.jobRequest(w, r)
	if !ok {
		return
	}
	report, err := h.svc.Settle(r.Context(), req)
	h.writeReport(w, report, err)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.jobRequest(w, r)
	if !ok {
		return
	}
	report, err := h.svc.SyncFeed(r.Context(), req)
	h.writeReport(w, report, err)
}

func (h *Handler) handlePredictMatch(w http.ResponseWriter, r *http.Request) {
	var body predictRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, pred, err := h.svc.PredictMatch(r.Context(), body.MatchID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPredictionResponse(body.MatchID, res, pred))
}

func (h *Handler) handlePredictCandidate(w http.ResponseWriter, r *http.Request) {
	var body candidateRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	c, err := body.toCandidate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.svc.PredictCandidate(r.Context(), c)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPredictionResponse(c.MatchID, res, nil))
}

func (h *Handler) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["matchID"]

	pred, err := h.svc.GetPrediction(r.Context(), matchID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStoredPredictionResponse(pred))
}

func (h *Handler) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	counters, err := h.svc.Accuracy(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]accuracyResponse, 0, len(counters))
	for i := range counters {
		out = append(out, accuracyResponse{AccuracyCounter: counters[i], Accuracy: counters[i].Accuracy()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"counters": out})
}

// jobRequest reads competition, offset and batch_size from the query string
func (h *Handler) jobRequest(w http.ResponseWriter, r *http.Request) (jobs.JobRequest, bool) {
	q := r.URL.Query()
	req := jobs.JobRequest{Competition: q.Get("competition")}

	var err error
	if v := q.Get("offset"); v != "" {
		if req.Offset, err = strconv.Atoi(v); err != nil || req.Offset < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid offset %q", v))
			return req, false
		}
	}
	if v := q.Get("batch_size"); v != "" {
		if req.BatchSize, err = strconv.Atoi(v); err != nil || req.BatchSize <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid batch_size %q", v))
			return req, false
		}
	}
	return req, true
}

func (h *Handler) writeReport(w http.ResponseWriter, report *jobs.Report, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// writeServiceError maps service errors to status codes
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, jobs.ErrBadRequest), errors.Is(err, patterns.ErrUnknownFeature):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrPredictionSettled):
		status = http.StatusConflict
	case errors.Is(err, jobs.ErrFeedDisabled):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}
