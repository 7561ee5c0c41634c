package services

import (
	"context"
	"fmt"
	"log/slog"

	"condominio/internal/core"
	"condominio/internal/storage"
)

// LedgerService records and edits ledger rows. Every mutation is gated on
// the period being open and on the owner resolving through the directory;
// the gate check and the write share one transaction.
type LedgerService struct {
	store  *storage.Store
	owners core.OwnerDirectory
}

func NewLedgerService(store *storage.Store, owners core.OwnerDirectory) *LedgerService {
	return &LedgerService{
		store:  store,
		owners: owners,
	}
}

// requireOpen fails with ErrPeriodClosed when the period cannot accept
// writes. Called inside the mutating transaction so the status cannot flip
// between check and write.
func requireOpen(ctx context.Context, q *storage.Queries, periodID int64) error {
	period, err := q.PeriodByID(ctx, periodID)
	if err != nil {
		return err
	}
	if !period.IsOpen() {
		return core.ErrPeriodClosed
	}
	return nil
}

func (s *LedgerService) resolveOwner(ctx context.Context, ownerID string) error {
	if _, err := s.owners.Owner(ctx, ownerID); err != nil {
		return fmt.Errorf("owner %q: %w", ownerID, err)
	}
	return nil
}

// RecordContribution records money paid into the community fund.
func (s *LedgerService) RecordContribution(ctx context.Context, c core.Contribution) (core.Contribution, error) {
	if err := c.Validate(); err != nil {
		return core.Contribution{}, err
	}
	if err := s.resolveOwner(ctx, c.OwnerID); err != nil {
		return core.Contribution{}, err
	}

	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		if err := requireOpen(ctx, q, c.PeriodID); err != nil {
			return err
		}
		var err error
		c, err = q.InsertContribution(ctx, c)
		return err
	})
	if err != nil {
		return core.Contribution{}, err
	}

	slog.InfoContext(ctx, "Contribution recorded",
		"id", c.ID, "period_id", c.PeriodID, "owner_id", c.OwnerID, "amount", c.Amount.String())
	return c, nil
}

// EditContribution overwrites a contribution in place. Opening rows keep
// their flag; only user-entered fields change.
func (s *LedgerService) EditContribution(ctx context.Context, c core.Contribution) (core.Contribution, error) {
	if err := c.Validate(); err != nil {
		return core.Contribution{}, err
	}
	if err := s.resolveOwner(ctx, c.OwnerID); err != nil {
		return core.Contribution{}, err
	}

	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		if err := requireOpen(ctx, q, c.PeriodID); err != nil {
			return err
		}
		return q.UpdateContribution(ctx, c)
	})
	if err != nil {
		return core.Contribution{}, err
	}
	return s.store.Queries().ContributionByID(ctx, c.ID)
}

// RecordExpense records money advanced by one owner on behalf of the
// community. A linked budget item must belong to the same period.
func (s *LedgerService) RecordExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	if err := s.resolveOwner(ctx, e.PayerID); err != nil {
		return core.Expense{}, err
	}

	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		if err := requireOpen(ctx, q, e.PeriodID); err != nil {
			return err
		}
		if err := checkBudgetItemPeriod(ctx, q, e); err != nil {
			return err
		}
		var err error
		e, err = q.InsertExpense(ctx, e)
		return err
	})
	if err != nil {
		return core.Expense{}, err
	}

	slog.InfoContext(ctx, "Expense recorded",
		"id", e.ID, "period_id", e.PeriodID, "payer_id", e.PayerID,
		"category", e.Category, "amount", e.Amount.String())
	return e, nil
}

// EditExpense overwrites an expense in place while its period is open.
func (s *LedgerService) EditExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	if err := s.resolveOwner(ctx, e.PayerID); err != nil {
		return core.Expense{}, err
	}

	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		if err := requireOpen(ctx, q, e.PeriodID); err != nil {
			return err
		}
		if err := checkBudgetItemPeriod(ctx, q, e); err != nil {
			return err
		}
		return q.UpdateExpense(ctx, e)
	})
	if err != nil {
		return core.Expense{}, err
	}
	return s.store.Queries().ExpenseByID(ctx, e.ID)
}

// CreateBudgetItem creates the allocation rule for one expense category.
func (s *LedgerService) CreateBudgetItem(ctx context.Context, b core.BudgetItem) (core.BudgetItem, error) {
	if err := b.Validate(); err != nil {
		return core.BudgetItem{}, err
	}

	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		if err := requireOpen(ctx, q, b.PeriodID); err != nil {
			return err
		}
		var err error
		b, err = q.InsertBudgetItem(ctx, b)
		return err
	})
	if err != nil {
		return core.BudgetItem{}, err
	}

	slog.InfoContext(ctx, "Budget item created",
		"id", b.ID, "period_id", b.PeriodID, "category", b.Category, "strategy", string(b.Strategy))
	return b, nil
}

// EditBudgetItem overwrites a budget item while its period is open.
func (s *LedgerService) EditBudgetItem(ctx context.Context, b core.BudgetItem) (core.BudgetItem, error) {
	if err := b.Validate(); err != nil {
		return core.BudgetItem{}, err
	}

	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		if err := requireOpen(ctx, q, b.PeriodID); err != nil {
			return err
		}
		return q.UpdateBudgetItem(ctx, b)
	})
	if err != nil {
		return core.BudgetItem{}, err
	}
	return s.store.Queries().BudgetItemByID(ctx, b.ID)
}

// RecordReading records one meter's start/end reading for the period.
func (s *LedgerService) RecordReading(ctx context.Context, r core.UtilityReading) (core.UtilityReading, error) {
	if err := r.Validate(); err != nil {
		return core.UtilityReading{}, err
	}
	if err := s.resolveOwner(ctx, r.OwnerID); err != nil {
		return core.UtilityReading{}, err
	}

	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		if err := requireOpen(ctx, q, r.PeriodID); err != nil {
			return err
		}
		var err error
		r, err = q.InsertReading(ctx, r)
		return err
	})
	if err != nil {
		return core.UtilityReading{}, err
	}

	slog.InfoContext(ctx, "Reading recorded",
		"id", r.ID, "period_id", r.PeriodID, "meter_id", r.MeterID,
		"owner_id", r.OwnerID, "consumption", r.Consumption())
	return r, nil
}

// EditReading overwrites a meter reading while its period is open.
func (s *LedgerService) EditReading(ctx context.Context, r core.UtilityReading) (core.UtilityReading, error) {
	if err := r.Validate(); err != nil {
		return core.UtilityReading{}, err
	}
	if err := s.resolveOwner(ctx, r.OwnerID); err != nil {
		return core.UtilityReading{}, err
	}

	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		if err := requireOpen(ctx, q, r.PeriodID); err != nil {
			return err
		}
		return q.UpdateReading(ctx, r)
	})
	if err != nil {
		return core.UtilityReading{}, err
	}
	return s.store.Queries().ReadingByID(ctx, r.ID)
}

// RecordServiceCharge records a direct, non-allocated charge against one
// owner.
func (s *LedgerService) RecordServiceCharge(ctx context.Context, sc core.ServiceCharge) (core.ServiceCharge, error) {
	if err := sc.Validate(); err != nil {
		return core.ServiceCharge{}, err
	}
	if err := s.resolveOwner(ctx, sc.OwnerID); err != nil {
		return core.ServiceCharge{}, err
	}

	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		if err := requireOpen(ctx, q, sc.PeriodID); err != nil {
			return err
		}
		var err error
		sc, err = q.InsertServiceCharge(ctx, sc)
		return err
	})
	if err != nil {
		return core.ServiceCharge{}, err
	}

	slog.InfoContext(ctx, "Service charge recorded",
		"id", sc.ID, "period_id", sc.PeriodID, "owner_id", sc.OwnerID, "amount", sc.Amount.String())
	return sc, nil
}

// EditServiceCharge overwrites a service charge while its period is open.
func (s *LedgerService) EditServiceCharge(ctx context.Context, sc core.ServiceCharge) (core.ServiceCharge, error) {
	if err := sc.Validate(); err != nil {
		return core.ServiceCharge{}, err
	}
	if err := s.resolveOwner(ctx, sc.OwnerID); err != nil {
		return core.ServiceCharge{}, err
	}

	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		if err := requireOpen(ctx, q, sc.PeriodID); err != nil {
			return err
		}
		return q.UpdateServiceCharge(ctx, sc)
	})
	if err != nil {
		return core.ServiceCharge{}, err
	}
	return s.store.Queries().ServiceChargeByID(ctx, sc.ID)
}

func checkBudgetItemPeriod(ctx context.Context, q *storage.Queries, e core.Expense) error {
	if e.BudgetItemID == 0 {
		return nil
	}
	item, err := q.BudgetItemByID(ctx, e.BudgetItemID)
	if err != nil {
		return err
	}
	if item.PeriodID != e.PeriodID {
		return core.ErrBudgetItemPeriod
	}
	return nil
}
