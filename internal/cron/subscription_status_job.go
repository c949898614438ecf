package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/foundermark/friended-backend/pkg/config"
	"github.com/foundermark/friended-backend/pkg/db/models"
	"github.com/foundermark/friended-backend/pkg/logger"
	"github.com/foundermark/friended-backend/pkg/metrics"
)

const defaultSweepBatchSize = 250

type receiptReconciler interface {
	ReconcileUser(ctx context.Context, userID uuid.UUID) (bool, error)
}

type sweepSettingsRepository interface {
	ListUsersWithExpirationAfter(ctx context.Context, cutoff time.Time, limit int) ([]models.UserSetting, error)
	ListUsersWithExpirationBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.UserSetting, error)
}

// SubscriptionStatusJobParams configures the periodic reconciliation sweep.
type SubscriptionStatusJobParams struct {
	Logger     *logger.Logger
	Settings   sweepSettingsRepository
	Reconciler receiptReconciler
	Metrics    *metrics.CronJobMetrics
	Sweep      config.SweepConfig
	Now        func() time.Time
}

// NewSubscriptionStatusJob builds the sweep that re-verifies lapsed
// subscriptions against the App Store.
func NewSubscriptionStatusJob(params SubscriptionStatusJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Settings == nil {
		return nil, fmt.Errorf("settings repository required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	if params.Sweep.BatchSize <= 0 {
		params.Sweep.BatchSize = defaultSweepBatchSize
	}
	return &subscriptionStatusJob{
		logg:       params.Logger,
		settings:   params.Settings,
		reconciler: params.Reconciler,
		metrics:    params.Metrics,
		sweep:      params.Sweep,
		now:        now,
	}, nil
}

type subscriptionStatusJob struct {
	logg       *logger.Logger
	settings   sweepSettingsRepository
	reconciler receiptReconciler
	metrics    *metrics.CronJobMetrics
	sweep      config.SweepConfig
	now        func() time.Time
}

func (j *subscriptionStatusJob) Name() string { return "subscription-status-sweep" }

func (j *subscriptionStatusJob) Run(ctx context.Context) error {
	logCtx := j.logg.WithField(ctx, "job", j.Name())
	logCtx = j.logg.WithField(logCtx, "event", "cron.job")

	candidates, err := j.listCandidates(logCtx)
	if err != nil {
		return fmt.Errorf("list sweep candidates: %w", err)
	}

	var errs error
	reconciled := 0
	skipped := 0
	for i := range candidates {
		done, err := j.reconciler.ReconcileUser(logCtx, candidates[i].UserID)
		if err != nil {
			errs = multierr.Append(errs,
				fmt.Errorf("reconcile user %s: %w", candidates[i].UserID, err))
			continue
		}
		if !done {
			skipped++
			continue
		}
		reconciled++
	}
	j.metrics.AddReconciledUsers(j.Name(), reconciled)

	reportCtx := j.logg.WithFields(logCtx, map[string]any{
		"cohort":     j.sweep.Cohort,
		"candidates": len(candidates),
		"reconciled": reconciled,
		"skipped":    skipped,
	})
	j.logg.Info(reportCtx, "subscription status sweep complete")
	return errs
}

// listCandidates collects the settings rows whose expiration puts them in
// the configured cohort. The recent cohort covers active subscriptions and
// anything that lapsed within the recent offset; the aged cohort covers
// subscriptions expired for longer than the aged offset.
func (j *subscriptionStatusJob) listCandidates(ctx context.Context) ([]models.UserSetting, error) {
	now := j.now().UTC()
	var candidates []models.UserSetting

	if j.sweep.Cohort == config.SweepCohortRecent || j.sweep.Cohort == config.SweepCohortAll {
		recent, err := j.settings.ListUsersWithExpirationAfter(ctx,
			now.Add(-j.sweep.RecentOffset()), j.sweep.BatchSize)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, recent...)
	}

	if j.sweep.Cohort == config.SweepCohortAged || j.sweep.Cohort == config.SweepCohortAll {
		aged, err := j.settings.ListUsersWithExpirationBefore(ctx,
			now.Add(-j.sweep.AgedOffset()), j.sweep.BatchSize)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, aged...)
	}
	return dedupeByUser(candidates), nil
}

// dedupeByUser drops repeat rows so a user whose expiration lands in both
// cohort windows is reconciled once per run.
func dedupeByUser(candidates []models.UserSetting) []models.UserSetting {
	seen := make(map[uuid.UUID]struct{}, len(candidates))
	out := candidates[:0]
	for i := range candidates {
		if _, ok := seen[candidates[i].UserID]; ok {
			continue
		}
		seen[candidates[i].UserID] = struct{}{}
		out = append(out, candidates[i])
	}
	return out
}
