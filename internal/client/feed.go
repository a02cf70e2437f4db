package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"footballtips/predictions/internal/metrics"
	"footballtips/predictions/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Client is the football data feed API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	maxElapsed time.Duration
	initial    time.Duration
}

// Options holds optional client tuning
type Options struct {
	Timeout        time.Duration
	RequestsPerSec int
	MaxRetries     uint64
	MaxElapsed     time.Duration
	InitialBackoff time.Duration
}

// NewClient creates a feed client with rate limiting and retries
func NewClient(baseURL, apiKey string, opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 5
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.MaxElapsed == 0 {
		opts.MaxElapsed = 30 * time.Second
	}
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.RequestsPerSec),
		maxRetries: opts.MaxRetries,
		maxElapsed: opts.MaxElapsed,
		initial:    opts.InitialBackoff,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// StatusError is a non-200 response from the feed
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// get performs a GET request with rate limiting and exponential backoff on 429/5xx
func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values) ([]byte, error) {
	u := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(path, "/"))
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	start := time.Now()
	attempt := 0
	var body []byte

	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("X-Auth-Token", c.apiKey)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "footballtips-predictions/1.0")

		log.Debug().Str("url", u).Int("attempt", attempt).Msg("Making feed request")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("feed request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 256)}
			if !statusErr.Retryable() {
				return backoff.Permanent(statusErr)
			}
			log.Warn().Str("url", u).Int("status", resp.StatusCode).Int("attempt", attempt).Msg("Retryable feed error")
			return statusErr
		}

		body = data
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initial
	policy.MaxElapsedTime = c.maxElapsed

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
	duration := time.Since(start).Seconds()
	if err != nil {
		status := "error"
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			status = fmt.Sprintf("%d", statusErr.StatusCode)
		}
		metrics.RecordAPICall(endpoint, status, duration)
		return nil, err
	}

	metrics.RecordAPICall(endpoint, "200", duration)
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// feedTeam is a team reference in a feed response
type feedTeam struct {
	TLA string `json:"tla"`
}

// feedMatch is one match as returned by the feed
type feedMatch struct {
	ID          int64     `json:"id"`
	UTCDate     string    `json:"utcDate"`
	Status      string    `json:"status"`
	Competition struct {
		Code string `json:"code"`
	} `json:"competition"`
	Season struct {
		StartDate string `json:"startDate"`
	} `json:"season"`
	HomeTeam feedTeam `json:"homeTeam"`
	AwayTeam feedTeam `json:"awayTeam"`
	Score    struct {
		FullTime struct {
			Home *int `json:"home"`
			Away *int `json:"away"`
		} `json:"fullTime"`
	} `json:"score"`
	Goals []struct {
		Minute int      `json:"minute"`
		Team   feedTeam `json:"team"`
	} `json:"goals"`
	Odds struct {
		HomeWin *float64 `json:"homeWin"`
		Draw    *float64 `json:"draw"`
		AwayWin *float64 `json:"awayWin"`
	} `json:"odds"`
}

type matchesResponse struct {
	Matches []feedMatch `json:"matches"`
}

// feed statuses mapped to stored match statuses
var statusMap = map[string]string{
	"SCHEDULED": models.MatchScheduled,
	"TIMED":     models.MatchScheduled,
	"IN_PLAY":   models.MatchInPlay,
	"PAUSED":    models.MatchInPlay,
	"FINISHED":  models.MatchFinal,
	"AWARDED":   models.MatchFinal,
	"POSTPONED": models.MatchPostponed,
	"SUSPENDED": models.MatchPostponed,
	"CANCELLED": models.MatchPostponed,
}

// FetchMatches fetches fixtures and results of a competition season, with odds when published
func (c *Client) FetchMatches(ctx context.Context, competition, season string) ([]models.MatchInput, error) {
	params := url.Values{}
	if season != "" {
		params.Set("season", season)
	}

	body, err := c.get(ctx, "matches", fmt.Sprintf("competitions/%s/matches", url.PathEscape(competition)), params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch matches: %w", err)
	}

	var resp matchesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal matches: %w", err)
	}

	inputs := make([]models.MatchInput, 0, len(resp.Matches))
	for _, fm := range resp.Matches {
		inputs = append(inputs, fm.toInput(competition, season))
	}

	log.Info().
		Str("competition", competition).
		Str("season", season).
		Int("count", len(inputs)).
		Msg("Feed matches fetched")

	return inputs, nil
}

func (fm feedMatch) toInput(competition, season string) models.MatchInput {
	in := models.MatchInput{
		MatchID:     fmt.Sprintf("%d", fm.ID),
		Competition: competition,
		Season:      season,
		Kickoff:     fm.UTCDate,
		HomeTeam:    fm.HomeTeam.TLA,
		AwayTeam:    fm.AwayTeam.TLA,
		Status:      statusMap[fm.Status],
		HomeGoals:   fm.Score.FullTime.Home,
		AwayGoals:   fm.Score.FullTime.Away,
		OddsHome:    fm.Odds.HomeWin,
		OddsDraw:    fm.Odds.Draw,
		OddsAway:    fm.Odds.AwayWin,
	}
	if fm.Competition.Code != "" {
		in.Competition = fm.Competition.Code
	}
	if in.Season == "" && len(fm.Season.StartDate) >= 4 {
		in.Season = fm.Season.StartDate[:4]
	}
	if in.Status == models.MatchFinal {
		in.FirstScorer = fm.firstScorer()
	}
	return in
}

// firstScorer derives home/away/none from the goal list; empty when goals are not published
func (fm feedMatch) firstScorer() string {
	if fm.Score.FullTime.Home != nil && fm.Score.FullTime.Away != nil &&
		*fm.Score.FullTime.Home == 0 && *fm.Score.FullTime.Away == 0 {
		return models.FirstScorerNone
	}
	if len(fm.Goals) == 0 {
		return ""
	}
	goals := fm.Goals
	sort.SliceStable(goals, func(i, j int) bool { return goals[i].Minute < goals[j].Minute })
	switch goals[0].Team.TLA {
	case fm.HomeTeam.TLA:
		return models.FirstScorerHome
	case fm.AwayTeam.TLA:
		return models.FirstScorerAway
	}
	return ""
}
