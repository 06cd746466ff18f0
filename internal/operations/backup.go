package operations

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/kebairia/backman/internal/archive"
	"github.com/kebairia/backman/internal/config"
	"github.com/kebairia/backman/internal/notify"
)

// State is the lifecycle of one backup run.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateCompletedWithErrors
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCompletedWithErrors:
		return "completed_with_errors"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// RunResult is the outcome of one target.
type RunResult struct {
	Target      string
	Type        string
	Success     bool
	ArchivePath string
	Uploaded    string // remote location, empty when no upload ran
	Err         error
	Duration    time.Duration
}

// Summary holds one result per configured target, in configuration order.
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	State      State
	Results    []RunResult
}

// Failed counts failed targets.
func (s Summary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if !r.Success {
			n++
		}
	}
	return n
}

// Succeeded counts successful targets.
func (s Summary) Succeeded() int {
	return len(s.Results) - s.Failed()
}

// Err aggregates every target error, or returns nil when all succeeded.
func (s Summary) Err() error {
	var err error
	for _, r := range s.Results {
		if r.Err != nil {
			err = multierr.Append(err, fmt.Errorf("target %q: %w", r.Target, r.Err))
		}
	}
	return err
}

func (s Summary) report(host string) notify.Report {
	r := notify.Report{
		Host:       host,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Outcomes:   make([]notify.Outcome, 0, len(s.Results)),
	}
	for _, res := range s.Results {
		o := notify.Outcome{
			Target:   res.Target,
			Type:     res.Type,
			Success:  res.Success,
			Detail:   res.ArchivePath,
			Duration: res.Duration,
		}
		if res.Err != nil {
			o.Detail = res.Err.Error()
		} else if res.Uploaded != "" {
			o.Detail += " -> " + res.Uploaded
		}
		r.Outcomes = append(r.Outcomes, o)
	}
	return r
}

// Backup runs every configured target once. A failing target never stops
// the others. The returned error is non-nil when at least one target
// failed and aggregates their errors; the Summary is always complete.
func (om *OperationManager) Backup(ctx context.Context) (Summary, error) {
	targets := om.cfg.Targets
	s := Summary{
		StartedAt: om.now(),
		State:     StateRunning,
		Results:   make([]RunResult, len(targets)),
	}
	om.log.Info("backup run started",
		"targets", len(targets),
		"backup_dir", om.cfg.BackupDir,
		"concurrency", om.cfg.Concurrency,
	)

	if om.cfg.Concurrency <= 1 {
		for i, t := range targets {
			s.Results[i] = om.runTarget(ctx, t)
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(om.cfg.Concurrency)
		for i, t := range targets {
			g.Go(func() error {
				s.Results[i] = om.runTarget(ctx, t)
				return nil
			})
		}
		_ = g.Wait()
	}

	s.FinishedAt = om.now()
	s.State = StateCompleted
	if s.Failed() > 0 {
		s.State = StateCompletedWithErrors
	}

	for _, r := range s.Results {
		if r.Success {
			om.log.Info("backup succeeded",
				"target", r.Target, "archive", r.ArchivePath, "duration", r.Duration.String())
			continue
		}
		om.log.Error("backup failed",
			"target", r.Target, "error", r.Err, "duration", r.Duration.String())
	}
	om.log.Info("backup run finished",
		"state", s.State.String(),
		"succeeded", s.Succeeded(),
		"failed", s.Failed(),
		"duration", s.FinishedAt.Sub(s.StartedAt).String(),
	)

	om.notify(ctx, s)
	return s, s.Err()
}

// runTarget never returns an error; failures are recorded in the result.
func (om *OperationManager) runTarget(ctx context.Context, t config.Target) RunResult {
	res := RunResult{Target: t.Name, Type: t.Type}
	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrCanceled, context.Cause(ctx))
		return res
	}

	start := om.now()
	log := om.log.With("target", t.Name, "type", t.Type)
	log.Info("target started")

	a, err := om.createArchive(ctx, t)
	if err == nil && om.uploader != nil {
		res.ArchivePath = a.Path
		var loc string
		if loc, err = om.uploader.Upload(ctx, a); err == nil {
			res.Uploaded = loc
			log.Info("archive uploaded", "location", loc)
		}
	}
	res.Duration = om.now().Sub(start)
	if err != nil {
		res.Err = err
		return res
	}
	res.Success = true
	res.ArchivePath = a.Path
	return res
}

func (om *OperationManager) createArchive(ctx context.Context, t config.Target) (archive.Archive, error) {
	switch t.Type {
	case config.TypeFile, config.TypeDirectory:
		if err := checkSource(t); err != nil {
			return archive.Archive{}, err
		}
		return om.archiver.Create(ctx, t.Name, t.Path)
	case config.TypeMySQL, config.TypePostgres:
		return om.dumper.Dump(ctx, t)
	}
	return archive.Archive{}, fmt.Errorf("%w: unknown target type %q", config.ErrConfig, t.Type)
}

// checkSource makes sure a file target is not a directory and vice versa.
func checkSource(t config.Target) error {
	info, err := os.Stat(t.Path)
	if err != nil {
		return fmt.Errorf("%w: source %q: %v", archive.ErrIO, t.Path, err)
	}
	switch {
	case t.Type == config.TypeFile && info.IsDir():
		return fmt.Errorf("%w: %q is a directory, expected a file", archive.ErrIO, t.Path)
	case t.Type == config.TypeDirectory && !info.IsDir():
		return fmt.Errorf("%w: %q is not a directory", archive.ErrIO, t.Path)
	}
	return nil
}

// notify sends the run report. It still runs after cancellation and its
// failure is only logged.
func (om *OperationManager) notify(ctx context.Context, s Summary) {
	if om.notifier == nil {
		return
	}
	sent, err := om.notifier.NotifyRun(context.WithoutCancel(ctx), s.report(om.hostname))
	switch {
	case err != nil:
		om.log.Error("notification failed", "error", err)
	case sent:
		om.log.Info("notification sent")
	default:
		om.log.Debug("notification skipped")
	}
}
