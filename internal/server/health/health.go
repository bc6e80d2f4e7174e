// Package health reports whether the server and the stores it depends on
// are usable.
package health

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ajuno-labs/codex-api/internal/logging"
	"github.com/ajuno-labs/codex-api/internal/server/kv"
	"github.com/ajuno-labs/codex-api/internal/timex"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	// DiskUsageLimit is the used-space percentage above which the
	// application check fails.
	DiskUsageLimit = 90.0

	probeTimeout = 2 * time.Second
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is the outcome of one probe.
type Check struct {
	Healthy        bool           `json:"healthy"`
	Message        string         `json:"message"`
	ResponseTimeMS float64        `json:"response_time_ms,omitempty"`
	Error          string         `json:"error,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

type Report struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
}

// HTTPStatus maps the overall status to a response code. A degraded
// service still answers 200.
func (r Report) HTTPStatus() int {
	switch r.Status {
	case StatusHealthy, StatusDegraded:
		return http.StatusOK
	case StatusUnhealthy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DiskUsage returns free and total bytes of the filesystem holding path.
type DiskUsage func(path string) (free, total uint64, err error)

type Options struct {
	Version string
	// Required names configuration values that must be non-empty.
	Required map[string]string
	// Providers lists the configured federated login providers.
	Providers []string
	DiskPath  string
	DiskUsage DiskUsage
	Clock     timex.Clock
	Logger    logging.Logger
}

type Checker struct {
	db    Pinger
	cache kv.Store
	opts  Options
}

func NewChecker(db Pinger, cache kv.Store, opts Options) *Checker {
	if opts.Clock == nil {
		opts.Clock = timex.Now
	}
	if opts.DiskUsage == nil {
		opts.DiskUsage = statDisk
	}
	if opts.DiskPath == "" {
		opts.DiskPath = "/"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop{}
	}
	opts.Logger = opts.Logger.With("module", "health")
	return &Checker{db: db, cache: cache, opts: opts}
}

// Check runs every probe. A failing database or application check makes
// the service unhealthy; a failing cache only degrades it.
func (c *Checker) Check(ctx context.Context) Report {
	r := Report{
		Status:    StatusHealthy,
		Timestamp: c.opts.Clock(),
		Version:   c.opts.Version,
		Checks:    make(map[string]Check, 3),
	}

	r.Checks["database"] = c.checkDatabase(ctx)
	r.Checks["cache"] = c.checkCache(ctx)
	r.Checks["application"] = c.checkApplication()

	if !r.Checks["cache"].Healthy {
		r.Status = StatusDegraded
	}
	if !r.Checks["database"].Healthy || !r.Checks["application"].Healthy {
		r.Status = StatusUnhealthy
	}

	return r
}

func (c *Checker) checkDatabase(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	if err := c.db.Ping(ctx); err != nil {
		c.opts.Logger.Error(ctx, "database health check failed", "error", err)
		return Check{Message: "Database connection failed", Error: err.Error()}
	}

	return Check{Healthy: true, Message: "Database connection successful", ResponseTimeMS: millis(time.Since(start))}
}

func (c *Checker) checkCache(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	key := "health_check:" + uuid.NewString()
	const value = "test_value"

	err := c.cache.Set(ctx, key, value, time.Minute)
	if err == nil {
		var got string
		got, err = c.cache.Get(ctx, key)
		if delErr := c.cache.Del(ctx, key); err == nil {
			err = delErr
		}
		if err == nil && got != value {
			return Check{Message: "Cache read/write test failed"}
		}
	}
	if err != nil {
		c.opts.Logger.Error(ctx, "cache health check failed", "error", err)
		return Check{Message: "Cache functionality failed", Error: err.Error()}
	}

	return Check{Healthy: true, Message: "Cache is working properly", ResponseTimeMS: millis(time.Since(start))}
}

func (c *Checker) checkApplication() Check {
	healthy := true
	details := map[string]any{}

	var missing []string
	for name, value := range c.opts.Required {
		if value == "" {
			missing = append(missing, name+" is not set")
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		details["config"] = missing
		healthy = false
	}
	if len(c.opts.Providers) > 0 {
		details["oauth_providers"] = c.opts.Providers
	}

	free, total, err := c.opts.DiskUsage(c.opts.DiskPath)
	switch {
	case err != nil:
		return Check{Message: "Application health check failed", Error: err.Error(), Details: details}
	case total == 0:
		return Check{Message: "Application health check failed", Error: fmt.Sprintf("%s reports zero capacity", c.opts.DiskPath), Details: details}
	}

	usage := math.Round(float64(total-free)/float64(total)*10000) / 100
	details["disk_usage"] = map[string]any{
		"usage_percent": usage,
		"free_bytes":    free,
		"total_bytes":   total,
	}
	if usage > DiskUsageLimit {
		details["disk_warning"] = "Disk usage is high"
		healthy = false
	}

	msg := "Application checks passed"
	if !healthy {
		msg = "Some application checks failed"
	}
	return Check{Healthy: healthy, Message: msg, Details: details}
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}
