// Package feed retrieves the hourly demand series of a region from the grid
// operator's report endpoint.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/sunflower/pkg/httpclient"
	"github.com/Ramsey-B/sunflower/pkg/metrics"
	"github.com/Ramsey-B/sunflower/pkg/models"
	"github.com/Ramsey-B/sunflower/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

var (
	// ErrTransport covers timeouts, refused connections and non-2xx answers.
	ErrTransport = errors.New("feed transport error")
	// ErrParse covers a malformed envelope, a missing payload field or bad inner JSON.
	ErrParse = errors.New("feed parse error")
)

// DefaultHeaders mimic the browser session the report page expects.
var DefaultHeaders = map[string]string{
	"User-Agent":       "Mozilla/5.0 (X11; Linux x86_64; rv:137.0) Gecko/20100101 Firefox/137.0",
	"Accept":           "application/json, text/javascript, */*; q=0.01",
	"Accept-Language":  "es-MX,es;q=0.8,en-US;q=0.5,en;q=0.3",
	"X-Requested-With": "XMLHttpRequest",
	"Pragma":           "no-cache",
	"Cache-Control":    "no-cache",
}

type Config struct {
	URL         string
	Referer     string
	Origin      string
	RegionParam string
	RateLimit   float64 // requests per second, 0 disables limiting
	Burst       int
}

// Poster is the subset of httpclient.Client the fetcher needs.
type Poster interface {
	PostJSON(ctx context.Context, url string, body any, headers map[string]string) (*httpclient.Response, error)
}

type Fetcher struct {
	client  Poster
	config  Config
	headers map[string]string
	limiter *rate.Limiter
	logger  ectologger.Logger
}

func NewFetcher(client Poster, cfg Config, logger ectologger.Logger) *Fetcher {
	if cfg.RegionParam == "" {
		cfg.RegionParam = "gerencia"
	}

	headers := make(map[string]string, len(DefaultHeaders)+2)
	for k, v := range DefaultHeaders {
		headers[k] = v
	}
	if cfg.Referer != "" {
		headers["Referer"] = cfg.Referer
	}
	if cfg.Origin != "" {
		headers["Origin"] = cfg.Origin
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Fetcher{
		client:  client,
		config:  cfg,
		headers: headers,
		limiter: limiter,
		logger:  logger,
	}
}

type envelope struct {
	D *string `json:"d"`
}

// Fetch returns the ordered hourly series of region for the current day. A
// trailing "24" element is dropped since upstream never finalizes it; a
// leading "24" is kept as the rollover reading.
func (f *Fetcher) Fetch(ctx context.Context, region models.Region) ([]models.Reading, error) {
	ctx, span := tracing.StartSpan(ctx, "Fetcher.Fetch",
		attribute.String("region.id", region.ID),
		attribute.String("region.name", region.Name),
	)
	defer span.End()

	if err := f.limiter.Wait(ctx); err != nil {
		tracing.Fail(span, err, "rate limiter")
		return nil, fmt.Errorf("%w: region %s: %v", ErrTransport, region.Name, err)
	}

	start := time.Now()
	resp, err := f.client.PostJSON(ctx, f.config.URL, map[string]string{f.config.RegionParam: region.ID}, f.headers)
	if err != nil {
		metrics.RecordFeedRequest("transport_error", time.Since(start).Seconds())
		tracing.Fail(span, err, "upstream request failed")
		return nil, fmt.Errorf("%w: region %s: %v", ErrTransport, region.Name, err)
	}

	series, err := Parse(resp.Body)
	if err != nil {
		metrics.RecordFeedRequest("parse_error", time.Since(start).Seconds())
		tracing.Fail(span, err, "upstream payload invalid")
		return nil, fmt.Errorf("region %s: %w", region.Name, err)
	}
	metrics.RecordFeedRequest("ok", time.Since(start).Seconds())

	span.SetAttributes(attribute.Int("feed.readings", len(series)))
	f.logger.WithContext(ctx).WithFields(map[string]any{
		"region":   region.Name,
		"readings": len(series),
	}).Debug("Fetched demand series")

	return series, nil
}

// Parse decodes the envelope, then its JSON-encoded payload, and trims the
// unfinished trailing hour.
func Parse(body []byte) ([]models.Reading, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid envelope: %v", ErrParse, err)
	}
	if env.D == nil {
		return nil, fmt.Errorf("%w: envelope has no \"d\" field", ErrParse)
	}

	var series []models.Reading
	if err := json.Unmarshal([]byte(*env.D), &series); err != nil {
		return nil, fmt.Errorf("%w: invalid series: %v", ErrParse, err)
	}

	return TrimTrailingRollover(series), nil
}

// TrimTrailingRollover drops the last element when it is labelled "24". A
// single "24" element is the head of the list and stays.
func TrimTrailingRollover(series []models.Reading) []models.Reading {
	if n := len(series); n > 1 && series[n-1].IsRollover() {
		return series[:n-1]
	}
	return series
}
