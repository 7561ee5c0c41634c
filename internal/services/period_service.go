// Package services orchestrates the ledger core over storage: the period
// state machine with close/reopen and carry-forward, and the gated
// record/edit operations.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"condominio/internal/core"
	"condominio/internal/storage"
)

// CloseNotifier is told about successfully closed periods. Delivery is best
// effort: a notification failure never undoes a close.
type CloseNotifier interface {
	NotifyPeriodClosed(ctx context.Context, periodID int64) error
}

// PeriodService owns the open/closed state machine. Closing a period
// finalizes its allocation and balances and seeds the successor's opening
// rows; reopening makes it mutable again, and the next close recomputes
// every downstream period that depended on it.
type PeriodService struct {
	store    *storage.Store
	owners   core.OwnerDirectory
	notifier CloseNotifier
}

func NewPeriodService(store *storage.Store, owners core.OwnerDirectory, notifier CloseNotifier) *PeriodService {
	return &PeriodService{
		store:    store,
		owners:   owners,
		notifier: notifier,
	}
}

// CreatePeriod opens a new accounting period. The name must be unique and
// the start date must precede the end date.
func (s *PeriodService) CreatePeriod(ctx context.Context, name string, start, end core.Date) (core.Period, error) {
	period, err := core.NewPeriod(name, start, end)
	if err != nil {
		return core.Period{}, err
	}

	err = s.store.InTx(ctx, func(q *storage.Queries) error {
		period, err = q.CreatePeriod(ctx, period)
		return err
	})
	if err != nil {
		return core.Period{}, err
	}

	slog.InfoContext(ctx, "Period created",
		"period_id", period.ID,
		"name", period.Name,
		"start", period.StartDate.Format("2006-01-02"),
		"end", period.EndDate.Format("2006-01-02"))
	return period, nil
}

// ClosePeriod transitions a period from open to closed, computes its final
// allocation and balance sheet, seeds the successor's opening balances and
// recomputes any downstream closed periods. The whole operation is one
// transaction: an integrity failure aborts it with nothing persisted.
func (s *PeriodService) ClosePeriod(ctx context.Context, periodID int64) (*core.BalanceSheet, error) {
	var sheet *core.BalanceSheet

	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		period, err := q.PeriodByID(ctx, periodID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		flipped, err := q.TransitionPeriod(ctx, periodID, core.PeriodOpen, core.PeriodClosed, &now)
		if err != nil {
			return err
		}
		if !flipped {
			return core.ErrPeriodNotOpen
		}
		period.Status = core.PeriodClosed
		period.ClosedAt = &now

		sheet, err = s.recalculate(ctx, q, period, true)
		if err != nil {
			return err
		}

		return s.propagate(ctx, q, period, sheet)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Period closed",
		"period_id", periodID,
		"owners", len(sheet.Rows),
		"total_contributions", sheet.TotalContributions.String(),
		"total_charges", sheet.TotalCharges.String())

	s.notifyClosed(ctx, periodID)
	return sheet, nil
}

// ReopenPeriod transitions a closed period back to open so its rows can be
// corrected. Downstream opening balances stay as seeded until this period
// is closed again, which reruns the forward propagation.
func (s *PeriodService) ReopenPeriod(ctx context.Context, periodID int64) (core.Period, error) {
	var period core.Period

	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		var err error
		period, err = q.PeriodByID(ctx, periodID)
		if err != nil {
			return err
		}

		flipped, err := q.TransitionPeriod(ctx, periodID, core.PeriodClosed, core.PeriodOpen, nil)
		if err != nil {
			return err
		}
		if !flipped {
			return core.ErrPeriodNotClosed
		}
		period.Status = core.PeriodOpen
		period.ClosedAt = nil
		return nil
	})
	if err != nil {
		return core.Period{}, err
	}

	slog.InfoContext(ctx, "Period reopened", "period_id", periodID, "name", period.Name)
	return period, nil
}

// Period returns a period by id.
func (s *PeriodService) Period(ctx context.Context, periodID int64) (core.Period, error) {
	return s.store.Queries().PeriodByID(ctx, periodID)
}

// Periods returns all periods ordered by start date.
func (s *PeriodService) Periods(ctx context.Context) ([]core.Period, error) {
	return s.store.Queries().ListPeriods(ctx)
}

// BalanceSheet returns the per-owner balance sheet of a period. A closed
// period is read from its finalized owner charges; an open period gets a
// provisional allocation computed on the fly, persisting nothing.
func (s *PeriodService) BalanceSheet(ctx context.Context, periodID int64) (*core.BalanceSheet, error) {
	q := s.store.Queries()
	period, err := q.PeriodByID(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if period.IsOpen() {
		return s.recalculate(ctx, q, period, false)
	}
	return s.finalizedSheet(ctx, q, period)
}

// finalizedSheet rebuilds a closed period's sheet from the owner charges
// stored at close time.
func (s *PeriodService) finalizedSheet(ctx context.Context, q *storage.Queries, period core.Period) (*core.BalanceSheet, error) {
	owners, err := s.owners.ActiveOwners(ctx, period.ID)
	if err != nil {
		return nil, fmt.Errorf("active owners: %w", err)
	}
	contributions, err := q.ListContributions(ctx, period.ID)
	if err != nil {
		return nil, err
	}
	charges, err := q.ListOwnerCharges(ctx, period.ID)
	if err != nil {
		return nil, err
	}
	serviceCharges, err := q.ListServiceCharges(ctx, period.ID)
	if err != nil {
		return nil, err
	}
	expenses, err := q.ListExpenses(ctx, period.ID)
	if err != nil {
		return nil, err
	}
	items, err := q.ListBudgetItems(ctx, period.ID)
	if err != nil {
		return nil, err
	}

	var allocatable core.Money
	for _, e := range expenses {
		if core.StrategyForExpense(e, items) != core.StrategyNone {
			allocatable = allocatable.Add(e.Amount)
		}
	}

	sheet, err := core.BuildBalanceSheet(period.ID, owners, contributions, charges, serviceCharges, allocatable)
	if err != nil {
		return nil, fmt.Errorf("period %d: %w", period.ID, err)
	}
	return sheet, nil
}

// recalculate runs the allocation engine over every expense of the period
// and aggregates the balance sheet. With persist set, the stored owner
// charges are replaced and per-reading costs updated; this is the close
// path. Without it the result is a provisional view.
func (s *PeriodService) recalculate(ctx context.Context, q *storage.Queries, period core.Period, persist bool) (*core.BalanceSheet, error) {
	owners, err := s.owners.ActiveOwners(ctx, period.ID)
	if err != nil {
		return nil, fmt.Errorf("active owners: %w", err)
	}

	contributions, err := q.ListContributions(ctx, period.ID)
	if err != nil {
		return nil, err
	}
	expenses, err := q.ListExpenses(ctx, period.ID)
	if err != nil {
		return nil, err
	}
	items, err := q.ListBudgetItems(ctx, period.ID)
	if err != nil {
		return nil, err
	}
	readings, err := q.ListReadings(ctx, period.ID)
	if err != nil {
		return nil, err
	}
	serviceCharges, err := q.ListServiceCharges(ctx, period.ID)
	if err != nil {
		return nil, err
	}

	usage := core.ConsumptionByOwner(readings)

	var allCharges []core.OwnerCharge
	var allocatable core.Money
	usageChargeByOwner := make(map[string]int64)

	for _, expense := range expenses {
		strategy := core.StrategyForExpense(expense, items)
		if strategy == core.StrategyNone {
			continue
		}
		charges, err := core.AllocateExpense(expense, strategy, owners, usage)
		if err != nil {
			return nil, fmt.Errorf("allocate expense %d: %w", expense.ID, err)
		}
		allocatable = allocatable.Add(expense.Amount)
		allCharges = append(allCharges, charges...)
		if strategy == core.StrategyUsageBased {
			for _, c := range charges {
				usageChargeByOwner[c.OwnerID] += c.Amount.Cents
			}
		}
	}

	if persist {
		if err := q.ReplaceOwnerCharges(ctx, period.ID, allCharges); err != nil {
			return nil, err
		}
		if err := updateReadingCosts(ctx, q, readings, usage, usageChargeByOwner); err != nil {
			return nil, err
		}
	}

	sheet, err := core.BuildBalanceSheet(period.ID, owners, contributions, allCharges, serviceCharges, allocatable)
	if err != nil {
		return nil, fmt.Errorf("period %d: %w", period.ID, err)
	}
	return sheet, nil
}

// propagate walks the periods after the just-closed one in start order. The
// immediate successor gets fresh opening rows from the closed sheet; every
// downstream period that is itself closed is recomputed in turn, so a
// reopen-and-reclose ripples forward over the whole chain. The walk stops
// at the first open period, whose own close will pick up from there.
func (s *PeriodService) propagate(ctx context.Context, q *storage.Queries, closed core.Period, sheet *core.BalanceSheet) error {
	successors, err := q.PeriodsAfter(ctx, closed.StartDate)
	if err != nil {
		return err
	}

	prevSheet := sheet
	for _, successor := range successors {
		if err := q.DeleteOpeningRows(ctx, successor.ID); err != nil {
			return err
		}
		credits, debts := core.CarryForward(prevSheet, successor.ID, successor.StartDate)
		for _, c := range credits {
			if _, err := q.InsertContribution(ctx, c); err != nil {
				return err
			}
		}
		for _, d := range debts {
			if _, err := q.InsertServiceCharge(ctx, d); err != nil {
				return err
			}
		}
		slog.InfoContext(ctx, "Opening balances seeded",
			"from_period", prevSheet.PeriodID,
			"to_period", successor.ID,
			"credits", len(credits),
			"debts", len(debts))

		if successor.IsOpen() {
			break
		}
		prevSheet, err = s.recalculate(ctx, q, successor, true)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PeriodService) notifyClosed(ctx context.Context, periodID int64) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyPeriodClosed(ctx, periodID); err != nil {
		// The close is committed; export will catch up on its next sweep.
		slog.ErrorContext(ctx, "Failed to notify period close",
			"period_id", periodID, "error", err)
	}
}

// updateReadingCosts spreads each owner's usage-based charge back over
// their readings in proportion to consumption, so a reading row shows what
// its consumption cost. Purely informational; balances come from the owner
// charges.
func updateReadingCosts(ctx context.Context, q *storage.Queries, readings []core.UtilityReading, usage map[string]int64, chargeByOwner map[string]int64) error {
	assigned := make(map[string]int64)
	lastByOwner := make(map[string]int)
	for i, r := range readings {
		lastByOwner[r.OwnerID] = i
	}

	for i, r := range readings {
		total := chargeByOwner[r.OwnerID]
		ownerUsage := usage[r.OwnerID]
		var cost int64
		if ownerUsage > 0 {
			cost = total * r.Consumption() / ownerUsage
		}
		// park the flooring leftover on the owner's last reading
		if lastByOwner[r.OwnerID] == i {
			cost = total - assigned[r.OwnerID]
		} else {
			assigned[r.OwnerID] += cost
		}
		if err := q.SetReadingCost(ctx, r.ID, core.Money{Cents: cost}); err != nil {
			return err
		}
	}
	return nil
}
