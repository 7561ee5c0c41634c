// Package worker exports finalized balance sheets. It reacts to
// period-closed messages and runs a periodic sweep as backup, so a lost
// message never loses an export.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"condominio/internal/amqp"
	"condominio/internal/core"
	"condominio/internal/sheets"
)

// LedgerReader is the slice of the period service the worker needs.
type LedgerReader interface {
	Period(ctx context.Context, periodID int64) (core.Period, error)
	Periods(ctx context.Context) ([]core.Period, error)
	BalanceSheet(ctx context.Context, periodID int64) (*core.BalanceSheet, error)
}

type ExportWorker struct {
	ledger    LedgerReader
	publisher sheets.BalancePublisher
}

func NewExportWorker(ledger LedgerReader, publisher sheets.BalancePublisher) *ExportWorker {
	return &ExportWorker{
		ledger:    ledger,
		publisher: publisher,
	}
}

// HandlePeriodClosed exports the balance sheet of the period named in the
// message. If the period was reopened between publish and consume, the
// message is dropped: the next close will publish again.
func (w *ExportWorker) HandlePeriodClosed(ctx context.Context, msg *amqp.PeriodClosedMessage) error {
	period, err := w.ledger.Period(ctx, msg.PeriodID)
	if err != nil {
		return fmt.Errorf("load period %d: %w", msg.PeriodID, err)
	}
	if period.IsOpen() {
		slog.InfoContext(ctx, "Period reopened before export, skipping",
			"period_id", period.ID)
		return nil
	}
	return w.export(ctx, period)
}

// ExportClosedPeriods re-exports every closed period. Run at startup and on
// an interval; exports are idempotent overwrites, so doing it again is safe.
func (w *ExportWorker) ExportClosedPeriods(ctx context.Context) error {
	periods, err := w.ledger.Periods(ctx)
	if err != nil {
		return fmt.Errorf("list periods: %w", err)
	}

	var errs int
	for _, period := range periods {
		if period.IsOpen() {
			continue
		}
		if err := w.export(ctx, period); err != nil {
			slog.ErrorContext(ctx, "Failed to export period",
				"period_id", period.ID, "error", err)
			errs++
		}
	}
	if errs > 0 {
		return fmt.Errorf("export sweep: %d of %d periods failed", errs, len(periods))
	}
	return nil
}

func (w *ExportWorker) export(ctx context.Context, period core.Period) error {
	sheet, err := w.ledger.BalanceSheet(ctx, period.ID)
	if err != nil {
		return fmt.Errorf("balance sheet for period %d: %w", period.ID, err)
	}

	ref, err := w.publisher.PublishBalanceSheet(ctx, period, sheet)
	if err != nil {
		return fmt.Errorf("publish balance sheet: %w", err)
	}

	slog.InfoContext(ctx, "Balance sheet published",
		"period_id", period.ID,
		"name", period.Name,
		"ref", ref)
	return nil
}
