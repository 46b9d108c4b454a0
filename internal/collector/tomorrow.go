package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/skywatch/skywatch/internal/metrics"
	"github.com/skywatch/skywatch/internal/types"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.tomorrow.io/v4/weather/realtime"

	defaultTimeout      = 10 * time.Second
	defaultRatePerSec   = 3
	defaultBurst        = 3
	maxErrorBodyBytes   = 4096
	codeInvalidLocation = 400001
	codeRateLimited     = 429001
)

// Kind classifies a failed fetch
type Kind string

const (
	KindInvalidLocation Kind = "invalid_location"
	KindRateLimited     Kind = "rate_limited"
	KindUpstream        Kind = "upstream"
	KindNetwork         Kind = "network"
)

// FetchError is returned by Fetch for every failure
type FetchError struct {
	Kind     Kind
	Location string
	Status   int
	Code     int
	Message  string
	Err      error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindInvalidLocation:
		return fmt.Sprintf("invalid location name: %q", e.Location)
	case KindRateLimited:
		return fmt.Sprintf("weather provider rate limit reached for %q", e.Location)
	case KindUpstream:
		if e.Message != "" {
			return fmt.Sprintf("weather API error (%d): %s", e.Status, e.Message)
		}
		return fmt.Sprintf("weather API error (%d)", e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("failed to fetch weather data for %q: %v", e.Location, e.Err)
	}
	return fmt.Sprintf("failed to fetch weather data for %q", e.Location)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err, or "" if err is not a FetchError
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Options configures a TomorrowClient
type Options struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// LocationHealth tracks fetch results for one location
type LocationHealth struct {
	Location      string    `json:"location"`
	LastSuccess   time.Time `json:"last_success,omitempty"`
	LastFailure   time.Time `json:"last_failure,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorKind Kind      `json:"last_error_kind,omitempty"`
	FetchCount    int64     `json:"fetch_count"`
	FailureCount  int64     `json:"failure_count"`
}

// TomorrowClient fetches realtime snapshots from the Tomorrow.io API
type TomorrowClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
	mu      sync.RWMutex
	health  map[string]*LocationHealth
}

// NewTomorrowClient creates a new provider client
func NewTomorrowClient(opts Options, logger zerolog.Logger) *TomorrowClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRatePerSec
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	return &TomorrowClient{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		logger:  logger.With().Str("component", "collector").Logger(),
		health:  make(map[string]*LocationHealth),
	}
}

// realtimeResponse is the body of a successful realtime call
type realtimeResponse struct {
	Data struct {
		Time   time.Time           `json:"time"`
		Values map[string]*float64 `json:"values"`
	} `json:"data"`
	Location struct {
		Lat  float64 `json:"lat"`
		Lon  float64 `json:"lon"`
		Name string  `json:"name"`
	} `json:"location"`
}

// errorResponse is the body of a failed call
type errorResponse struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// CleanLocation strips commas and surrounding whitespace the way the API expects
func CleanLocation(location string) string {
	return strings.TrimSpace(strings.ReplaceAll(location, ",", ""))
}

// Fetch retrieves the current snapshot for location. Values are in metric units.
func (c *TomorrowClient) Fetch(ctx context.Context, location string) (types.WeatherSnapshot, error) {
	start := time.Now()
	snap, err := c.fetch(ctx, location)
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
	}
	metrics.RecordFetch(result, time.Since(start).Seconds())
	c.recordHealth(location, err)
	return snap, err
}

func (c *TomorrowClient) fetch(ctx context.Context, location string) (types.WeatherSnapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return types.WeatherSnapshot{}, &FetchError{Kind: KindNetwork, Location: location, Err: err}
	}

	q := url.Values{}
	q.Set("location", CleanLocation(location))
	q.Set("apikey", c.apiKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return types.WeatherSnapshot{}, &FetchError{Kind: KindNetwork, Location: location, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return types.WeatherSnapshot{}, &FetchError{Kind: KindNetwork, Location: location, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.WeatherSnapshot{}, classify(location, resp)
	}

	var body realtimeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return types.WeatherSnapshot{}, &FetchError{
			Kind:     KindUpstream,
			Location: location,
			Status:   resp.StatusCode,
			Message:  "undecodable response body",
			Err:      err,
		}
	}

	values := make(map[string]float64, len(body.Data.Values))
	for name, v := range body.Data.Values {
		if v != nil {
			values[name] = *v
		}
	}
	observedAt := body.Data.Time
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	return types.WeatherSnapshot{
		Location:   location,
		Lat:        body.Location.Lat,
		Lon:        body.Location.Lon,
		ObservedAt: observedAt,
		Values:     values,
	}, nil
}

func classify(location string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var body errorResponse
	_ = json.Unmarshal(raw, &body)

	fe := &FetchError{
		Kind:     KindUpstream,
		Location: location,
		Status:   resp.StatusCode,
		Code:     body.Code,
		Message:  body.Message,
	}
	switch {
	case body.Code == codeInvalidLocation:
		fe.Kind = KindInvalidLocation
	case resp.StatusCode == http.StatusTooManyRequests || body.Code == codeRateLimited:
		fe.Kind = KindRateLimited
	}
	if fe.Message == "" {
		fe.Message = strings.TrimSpace(string(raw))
	}
	return fe
}

func (c *TomorrowClient) recordHealth(location string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.health[location]
	if !ok {
		h = &LocationHealth{Location: location}
		c.health[location] = h
	}
	h.FetchCount++
	if err == nil {
		h.LastSuccess = time.Now()
		return
	}
	h.FailureCount++
	h.LastFailure = time.Now()
	h.LastError = err.Error()
	h.LastErrorKind = KindOf(err)
}

// Health returns a copy of per-location fetch health
func (c *TomorrowClient) Health() map[string]LocationHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]LocationHealth, len(c.health))
	for k, v := range c.health {
		out[k] = *v
	}
	return out
}
