// Package jobs wraps pipeline invocations in ledgered runs: every execution
// gets a RUNNING row and exactly one terminal transition. The sync job also
// owns the interval gate and the cooldown-gated auto-digest cascade.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/bookmark-agent/internal/store"
	"github.com/jonathan/bookmark-agent/internal/types"
)

const (
	lastSyncKey        = "sync:last_run"
	digestCooldownKey  = "digest:auto:last_trigger"
	autoDigestCooldown = 30 * time.Minute

	defaultListLimit = 50
	maxListLimit     = 200
)

// Job names recorded in the ledger.
const (
	JobSync        = "sync"
	JobResummarize = "resummarize"
	JobDigestDaily = "digest:daily"
	JobDigestWeek  = "digest:weekly"
	JobPurge       = "ledger:purge"
)

// Pipeline is the slice of the sync engine the runner drives.
type Pipeline interface {
	Sync(ctx context.Context) (*types.SyncResult, error)
	Resummarize(ctx context.Context, filter types.ResummarizeFilter) (*types.ResummarizeResult, error)
	GenerateDigest(ctx context.Context, period types.DigestPeriod) (*types.DigestResult, error)
}

// Runner executes pipeline operations under the job ledger.
type Runner struct {
	pipeline     Pipeline
	runs         store.JobRunStore
	kv           store.KV
	syncInterval time.Duration
	retention    time.Duration
	now          func() time.Time
	log          *zap.Logger
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Pipeline     Pipeline
	Runs         store.JobRunStore
	KV           store.KV
	SyncInterval time.Duration
	Retention    time.Duration
	Now          func() time.Time
	Logger       *zap.Logger
}

// NewRunner builds a Runner. A zero sync interval disables the gate; a zero
// retention defaults to 30 days.
func NewRunner(opts RunnerOptions) *Runner {
	retention := opts.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		pipeline:     opts.Pipeline,
		runs:         opts.Runs,
		kv:           opts.KV,
		syncInterval: opts.SyncInterval,
		retention:    retention,
		now:          now,
		log:          log,
	}
}

// RunSync executes one ledgered incremental sync. Unless forced, the run is
// skipped when the configured interval has not elapsed since the last run;
// the gate check is an explicit clock comparison against a KV timestamp, no
// timers. A successful sync that inserted new items attempts the auto-digest
// cascade; cascade failures land inside the result, never fail the sync.
func (r *Runner) RunSync(ctx context.Context, force bool) (*types.SyncResult, error) {
	if !force {
		elapsed, err := r.intervalElapsed(ctx)
		if err != nil {
			return nil, err
		}
		if !elapsed {
			return &types.SyncResult{Skipped: true, StopReason: types.StopIntervalGate}, nil
		}
	}

	var result *types.SyncResult
	err := r.ledgered(ctx, JobSync, func(ctx context.Context) (map[string]any, error) {
		var err error
		result, err = r.pipeline.Sync(ctx)
		if err != nil {
			return nil, err
		}

		if err := r.kv.Set(ctx, lastSyncKey, r.now().UTC().Format(time.RFC3339)); err != nil {
			r.log.Warn("failed to record last sync time", zap.Error(err))
		}
		if result.TotalInserted > 0 {
			r.autoDigest(ctx, result)
		}
		return syncMetadata(result), nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RunResummarize executes one ledgered resummarize batch.
func (r *Runner) RunResummarize(ctx context.Context, filter types.ResummarizeFilter) (*types.ResummarizeResult, error) {
	var result *types.ResummarizeResult
	err := r.ledgered(ctx, JobResummarize, func(ctx context.Context) (map[string]any, error) {
		var err error
		result, err = r.pipeline.Resummarize(ctx, filter)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"selected":         result.Selected,
			"processed":        result.Processed,
			"updated":          result.Updated,
			"skipped_existing": result.SkippedExisting,
			"failed":           result.Failed,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RunDigest executes one ledgered digest generation.
func (r *Runner) RunDigest(ctx context.Context, period types.DigestPeriod) (*types.DigestResult, error) {
	jobName := JobDigestDaily
	if period == types.PeriodWeekly {
		jobName = JobDigestWeek
	}
	var result *types.DigestResult
	err := r.ledgered(ctx, jobName, func(ctx context.Context) (map[string]any, error) {
		var err error
		result, err = r.pipeline.GenerateDigest(ctx, period)
		if err != nil {
			return nil, err
		}
		meta := map[string]any{"generated": result.Generated}
		if result.Report != nil {
			meta["period_key"] = result.Report.PeriodKey
			meta["item_count"] = result.Report.ItemCount
			meta["model"] = result.Report.Model
		}
		return meta, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListRuns returns recent ledger rows, newest first.
func (r *Runner) ListRuns(ctx context.Context, limit int) ([]types.JobRun, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return r.runs.ListRuns(ctx, limit)
}

// PurgeOldRuns deletes ledger rows past the retention horizon, itself
// recorded as a ledgered run.
func (r *Runner) PurgeOldRuns(ctx context.Context) (int64, error) {
	var purged int64
	err := r.ledgered(ctx, JobPurge, func(ctx context.Context) (map[string]any, error) {
		var err error
		purged, err = r.runs.PurgeRunsBefore(ctx, r.now().Add(-r.retention))
		if err != nil {
			return nil, err
		}
		return map[string]any{"purged": purged}, nil
	})
	return purged, err
}

// intervalElapsed reports whether the sync interval has passed since the
// last recorded run. A zero interval or a missing/garbled marker always
// allows the run.
func (r *Runner) intervalElapsed(ctx context.Context) (bool, error) {
	if r.syncInterval <= 0 {
		return true, nil
	}
	raw, ok, err := r.kv.Get(ctx, lastSyncKey)
	if err != nil {
		return false, fmt.Errorf("failed to read last sync time: %w", err)
	}
	if !ok {
		return true, nil
	}
	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		r.log.Warn("last sync marker is not a timestamp, running anyway", zap.String("value", raw))
		return true, nil
	}
	return r.now().Sub(last) >= r.syncInterval, nil
}

// autoDigest triggers a daily digest after a productive sync, gated by a
// 30-minute cooldown. Every failure mode is absorbed into the sync result.
func (r *Runner) autoDigest(ctx context.Context, result *types.SyncResult) {
	now := r.now()
	raw, ok, err := r.kv.Get(ctx, digestCooldownKey)
	if err != nil {
		result.AutoDigestError = fmt.Sprintf("cooldown check failed: %v", err)
		return
	}
	if ok {
		if last, perr := time.Parse(time.RFC3339, raw); perr == nil && now.Sub(last) < autoDigestCooldown {
			return
		}
	}
	if err := r.kv.Set(ctx, digestCooldownKey, now.UTC().Format(time.RFC3339)); err != nil {
		result.AutoDigestError = fmt.Sprintf("cooldown update failed: %v", err)
		return
	}

	result.AutoDigestTriggered = true
	if _, err := r.RunDigest(ctx, types.PeriodDaily); err != nil {
		result.AutoDigestError = err.Error()
	}
}

// ledgered wraps a task in a RUNNING ledger row and exactly one terminal
// transition carrying either the task's metadata or its error message.
func (r *Runner) ledgered(ctx context.Context, jobName string, task func(context.Context) (map[string]any, error)) error {
	run := &types.JobRun{
		ID:        uuid.New(),
		JobName:   jobName,
		Status:    types.JobRunning,
		StartedAt: r.now(),
	}
	if err := r.runs.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to create job run: %w", err)
	}

	meta, taskErr := task(ctx)
	finishedAt := r.now()
	status := types.JobSuccess
	errMsg := ""
	if taskErr != nil {
		status = types.JobFailed
		errMsg = taskErr.Error()
	}
	if err := r.runs.FinishRun(ctx, run.ID, status, meta, errMsg, finishedAt); err != nil {
		r.log.Error("failed to finish job run",
			zap.String("job", jobName),
			zap.String("run_id", run.ID.String()),
			zap.Error(err))
	}
	return taskErr
}

func syncMetadata(result *types.SyncResult) map[string]any {
	return map[string]any{
		"pages":                 result.Pages,
		"total_fetched":         result.TotalFetched,
		"total_inserted":        result.TotalInserted,
		"summaries_written":     result.SummariesWritten,
		"stop_reason":           result.StopReason,
		"auto_digest_triggered": result.AutoDigestTriggered,
	}
}
