// Package prefetch rebuilds configured users' feeds on a cron schedule so
// the calendar cache is warm when subscription clients poll.
package prefetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "epcal/internal/log"
)

type Builder interface {
	BuildICS(ctx context.Context, username string) (string, error)
}

type Runner struct {
	builder Builder
	users   []string
	timeout time.Duration
}

// New returns a Runner for users. timeout bounds each user's build; zero
// means no limit beyond the caller's context.
func New(b Builder, users []string, timeout time.Duration) *Runner {
	return &Runner{builder: b, users: users, timeout: timeout}
}

// RunOnce builds every user's feed in turn. A failure for one user does not
// stop the others; all failures are returned together.
func (r *Runner) RunOnce(ctx context.Context) error {
	var errs []error
	for _, u := range r.users {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := r.build(ctx, u); err != nil {
			appLog.Error("prefetch failed", err, "username", u)
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		appLog.Debug("prefetch done", "username", u)
	}
	return errors.Join(errs...)
}

func (r *Runner) build(ctx context.Context, username string) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	_, err := r.builder.BuildICS(ctx, username)
	return err
}

// Run schedules RunOnce with a standard five-field cron spec (descriptors
// such as "@every 1h" are accepted) and blocks until ctx is cancelled.
// Runs never overlap; a tick that fires during a run is skipped.
func (r *Runner) Run(ctx context.Context, spec string) error {
	if len(r.users) == 0 {
		<-ctx.Done()
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() {
		if err := r.RunOnce(ctx); err != nil {
			appLog.Warn("prefetch round finished with errors", "error", err.Error())
		}
	}); err != nil {
		return fmt.Errorf("parse prefetch schedule %q: %w", spec, err)
	}

	appLog.Info("prefetch scheduled", "cron", spec, "users", len(r.users))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
