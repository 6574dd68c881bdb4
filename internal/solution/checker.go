// Package solution answers whether a solution page exists for a problem slug.
package solution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"neetlink/internal/bus"
	"neetlink/internal/config"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBase is the solution site prefix; a slug is appended verbatim.
const DefaultBase = "https://neetcode.io/solutions/"

// ErrInvalidSlug is reported for empty slugs, before any network I/O. Its text
// is the CHECK_NEETCODE error reply, so the wording is fixed.
var ErrInvalidSlug = errors.New("Invalid problem slug provided. Expected a non-empty string.")

// TargetURL joins base and slug without escaping.
func TargetURL(base, slug string) string {
	return base + slug
}

// ValidateSlug rejects slugs that cannot name a problem.
func ValidateSlug(slug string) error {
	if slug == "" {
		return ErrInvalidSlug
	}
	return nil
}

// Result is the outcome of a single probe.
type Result struct {
	Slug       string
	URL        string
	Exists     bool
	StatusCode int // 0 when no response was received
	Latency    time.Duration
	Err        error
}

// Options configure a Checker.
type Options struct {
	Base          string
	UserAgent     string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	// Client overrides the HTTP client; Timeout is ignored when set.
	Client *http.Client
}

// OptionsFromConfig maps the site and probe sections onto Options.
func OptionsFromConfig(site config.SiteConfig, probe config.ProbeConfig) Options {
	return Options{
		Base:          site.SolutionBase,
		UserAgent:     probe.UserAgent,
		Timeout:       probe.TimeoutDuration(),
		RatePerSecond: probe.RatePerSecond,
		Burst:         probe.Burst,
	}
}

// Checker probes the solution site with HEAD requests.
type Checker struct {
	logger    *zap.Logger
	client    *http.Client
	limiter   *rate.Limiter
	base      string
	userAgent string
}

// NewChecker creates a Checker. A non-positive rate disables the limiter.
func NewChecker(logger *zap.Logger, opts Options) *Checker {
	base := opts.Base
	if base == "" {
		base = DefaultBase
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	limit := rate.Inf
	burst := opts.Burst
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &Checker{
		logger:    logger.Named("solution"),
		client:    client,
		limiter:   rate.NewLimiter(limit, burst),
		base:      base,
		userAgent: opts.UserAgent,
	}
}

// Base returns the configured solution prefix.
func (c *Checker) Base() string { return c.base }

// URLFor returns the solution URL for slug.
func (c *Checker) URLFor(slug string) string { return TargetURL(c.base, slug) }

// Probe issues one HEAD request for slug. Redirects are followed and the final
// status decides: any 2xx means the page exists.
func (c *Checker) Probe(ctx context.Context, slug string) Result {
	res := Result{Slug: slug}
	if err := ValidateSlug(slug); err != nil {
		res.Err = err
		return res
	}
	res.URL = c.URLFor(slug)

	if err := c.limiter.Wait(ctx); err != nil {
		res.Err = fmt.Errorf("waiting for probe slot: %w", err)
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, res.URL, nil)
	if err != nil {
		res.Err = fmt.Errorf("building request: %w", err)
		return res
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	res.Latency = time.Since(start)
	if err != nil {
		c.logger.Warn("Solution probe failed", zap.String("slug", slug), zap.Error(err))
		res.Err = err
		return res
	}
	resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.Exists = resp.StatusCode >= 200 && resp.StatusCode < 300

	c.logger.Debug("Solution probe finished",
		zap.String("slug", slug),
		zap.Int("status", res.StatusCode),
		zap.Bool("exists", res.Exists),
		zap.Duration("latency", res.Latency))
	return res
}

// Handle is the bus handler for CHECK_NEETCODE requests.
func (c *Checker) Handle(ctx context.Context, req bus.CheckRequest) bus.CheckResponse {
	if err := ValidateSlug(req.Slug); err != nil {
		c.logger.Error("Rejected check request", zap.Error(err))
		return bus.CheckResponse{Exists: false, Error: err.Error()}
	}

	res := c.Probe(ctx, req.Slug)
	if res.Err != nil {
		return bus.CheckResponse{Exists: false, Error: res.Err.Error()}
	}
	return bus.CheckResponse{Exists: res.Exists}
}
