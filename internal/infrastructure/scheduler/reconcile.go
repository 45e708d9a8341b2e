package scheduler

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/iho/churchledger/internal/usecase"
)

// Reconciler is the part of usecase.ReconciliationUseCase the job needs.
type Reconciler interface {
	GenerateReport(ctx context.Context) (*usecase.ReconciliationReport, error)
	Repair(ctx context.Context, congregationID string) (*usecase.ReconciliationResult, error)
}

// Retrier reruns an operation that lost a lock race.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// ReconciliationJob recomputes every congregation balance and, when
// autoRepair is set, overwrites drifted balances with the recomputed value.
type ReconciliationJob struct {
	reconciler Reconciler
	retrier    Retrier
	autoRepair bool
}

// NewReconciliationJob creates a ReconciliationJob. retrier may be nil.
func NewReconciliationJob(reconciler Reconciler, retrier Retrier, autoRepair bool) *ReconciliationJob {
	return &ReconciliationJob{
		reconciler: reconciler,
		retrier:    retrier,
		autoRepair: autoRepair,
	}
}

// Run executes one reconciliation pass. Repair failures are collected so
// one congregation does not block the rest.
func (j *ReconciliationJob) Run(ctx context.Context) error {
	log := zerolog.Ctx(ctx)

	report, err := j.reconciler.GenerateReport(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Int("total", report.TotalCongregations).
		Int("reconciled", report.ReconciledCongregations).
		Int("drifted", len(report.Discrepancies)).
		Msg("reconciliation finished")

	var errs []error
	for _, d := range report.Discrepancies {
		log.Warn().
			Str("congregation_id", d.CongregationID).
			Str("recorded", d.RecordedBalance.String()).
			Str("calculated", d.CalculatedBalance.String()).
			Str("difference", d.Difference.String()).
			Msg("balance drift detected")

		if !j.autoRepair {
			continue
		}

		if err := j.repair(ctx, d.CongregationID); err != nil {
			log.Error().Err(err).Str("congregation_id", d.CongregationID).Msg("balance repair failed")
			errs = append(errs, err)
			continue
		}

		log.Info().Str("congregation_id", d.CongregationID).Msg("balance repaired")
	}

	return errors.Join(errs...)
}

func (j *ReconciliationJob) repair(ctx context.Context, congregationID string) error {
	op := func() error {
		_, err := j.reconciler.Repair(ctx, congregationID)
		return err
	}

	if j.retrier == nil {
		return op()
	}
	return j.retrier.Retry(ctx, op)
}
