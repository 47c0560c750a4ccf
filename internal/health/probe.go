// Package health runs the composite readiness probe behind /healthz.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/siteops/internal/logger"
)

// Status represents the composite health of the service.
type Status string

const (
	// StatusHealthy means every check passed.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy means at least one check failed.
	StatusUnhealthy Status = "unhealthy"
)

// ErrTimeout is recorded for a check that did not finish within its budget.
var ErrTimeout = errors.New("timeout")

// Check represents a single dependency probe.
type Check interface {
	// Name returns the key reported in the checks map.
	Name() string
	// Check returns an error if the dependency is not usable.
	Check(ctx context.Context) error
}

type namedCheck struct {
	name string
	fn   func(ctx context.Context) error
}

func (c namedCheck) Name() string                    { return c.name }
func (c namedCheck) Check(ctx context.Context) error { return c.fn(ctx) }

// NewCheck wraps fn as a Check called name.
func NewCheck(name string, fn func(ctx context.Context) error) Check {
	return namedCheck{name: name, fn: fn}
}

// Result is the outcome of one check. A nil Err means OK.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// OK reports whether the check passed.
func (r Result) OK() bool { return r.Err == nil }

// Outcome renders the result the way the endpoint reports it.
func (r Result) Outcome() string {
	if r.Err == nil {
		return "ok"
	}
	return "error: " + r.Err.Error()
}

// Report is the composite result of one probe run. Results follow check
// registration order regardless of completion order.
type Report struct {
	Status  Status
	Results []Result
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool { return r.Status == StatusHealthy }

// Checks returns the name to outcome map rendered in the response body.
func (r Report) Checks() map[string]string {
	out := make(map[string]string, len(r.Results))
	for _, res := range r.Results {
		out[res.Name] = res.Outcome()
	}
	return out
}

// Observer is notified of each check result, e.g. to export metrics.
type Observer func(Result)

// Option configures a Probe.
type Option func(*Probe)

// WithObserver registers fn to receive every check result.
func WithObserver(fn Observer) Option {
	return func(p *Probe) { p.observers = append(p.observers, fn) }
}

// WithLogger sets the logger failed checks are reported to.
func WithLogger(log logger.Logger) Option {
	return func(p *Probe) { p.log = log }
}

// Probe runs a fixed set of checks concurrently, each bounded by a timeout.
type Probe struct {
	checks    []Check
	timeout   time.Duration
	observers []Observer
	log       logger.Logger
}

// NewProbe creates a probe over checks. A non-positive timeout disables the
// per-check bound and leaves only the caller's context.
func NewProbe(timeout time.Duration, checks []Check, opts ...Option) *Probe {
	p := &Probe{
		checks:  checks,
		timeout: timeout,
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check runs every check and aggregates the outcome. It never returns an
// error: each failure is recorded against its check.
func (p *Probe) Check(ctx context.Context) Report {
	results := make([]Result, len(p.checks))

	var wg sync.WaitGroup
	for i, c := range p.checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			results[i] = p.run(ctx, c)
		}(i, c)
	}
	wg.Wait()

	report := Report{Status: StatusHealthy, Results: results}
	for _, res := range results {
		for _, obs := range p.observers {
			obs(res)
		}
		if !res.OK() {
			report.Status = StatusUnhealthy
			p.log.Warn("Health check failed",
				logger.String("check", res.Name),
				logger.Error(res.Err),
				logger.Duration("duration", res.Duration),
			)
		}
	}

	return report
}

func (p *Probe) run(ctx context.Context, c Check) Result {
	start := time.Now()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("check panicked: %v", r)
			}
		}()
		done <- c.Check(ctx)
	}()

	var err error
	select {
	case err = <-done:
		if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)) {
			err = ErrTimeout
		}
	case <-ctx.Done():
		err = ErrTimeout
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = ctx.Err()
		}
	}

	return Result{Name: c.Name(), Err: err, Duration: time.Since(start)}
}
