package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"condominio/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustCreatePeriod(t *testing.T, s *Store, name string, start, end core.Date) core.Period {
	t.Helper()
	p, err := core.NewPeriod(name, start, end)
	if err != nil {
		t.Fatal(err)
	}
	p, err = s.Queries().CreatePeriod(context.Background(), p)
	if err != nil {
		t.Fatalf("create period: %v", err)
	}
	return p
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	store.Close()

	// Reopening runs migrations again; ErrNoChange must be swallowed.
	store, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	store.Close()
}

func TestCreatePeriodRejectsDuplicateName(t *testing.T) {
	s := newTestStore(t)
	mustCreatePeriod(t, s, "2025-Q1", core.NewDate(2025, 1, 1), core.NewDate(2025, 3, 31))

	p, _ := core.NewPeriod("2025-Q1", core.NewDate(2025, 4, 1), core.NewDate(2025, 6, 30))
	_, err := s.Queries().CreatePeriod(context.Background(), p)
	if !errors.Is(err, core.ErrDuplicatePeriod) {
		t.Errorf("expected ErrDuplicatePeriod, got %v", err)
	}
}

func TestTransitionPeriodIsConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustCreatePeriod(t, s, "2025-Q1", core.NewDate(2025, 1, 1), core.NewDate(2025, 3, 31))

	now := time.Now().UTC()
	flipped, err := s.Queries().TransitionPeriod(ctx, p.ID, core.PeriodOpen, core.PeriodClosed, &now)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !flipped {
		t.Fatal("expected first transition to apply")
	}

	// second close sees the wrong from-state
	flipped, err = s.Queries().TransitionPeriod(ctx, p.ID, core.PeriodOpen, core.PeriodClosed, &now)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if flipped {
		t.Error("transition from wrong state must not apply")
	}

	got, err := s.Queries().PeriodByID(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != core.PeriodClosed || got.ClosedAt == nil {
		t.Errorf("unexpected period state %+v", got)
	}

	// reopen clears closed_at
	flipped, err = s.Queries().TransitionPeriod(ctx, p.ID, core.PeriodClosed, core.PeriodOpen, nil)
	if err != nil || !flipped {
		t.Fatalf("reopen: flipped=%v err=%v", flipped, err)
	}
	got, _ = s.Queries().PeriodByID(ctx, p.ID)
	if got.ClosedAt != nil {
		t.Error("reopen should clear closed_at")
	}
}

func TestPeriodsAfterOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreatePeriod(t, s, "2025-Q3", core.NewDate(2025, 7, 1), core.NewDate(2025, 9, 30))
	q1 := mustCreatePeriod(t, s, "2025-Q1", core.NewDate(2025, 1, 1), core.NewDate(2025, 3, 31))
	mustCreatePeriod(t, s, "2025-Q2", core.NewDate(2025, 4, 1), core.NewDate(2025, 6, 30))

	after, err := s.Queries().PeriodsAfter(ctx, q1.StartDate)
	if err != nil {
		t.Fatalf("periods after: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("expected 2 successors, got %d", len(after))
	}
	if after[0].Name != "2025-Q2" || after[1].Name != "2025-Q3" {
		t.Errorf("wrong order: %s, %s", after[0].Name, after[1].Name)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustCreatePeriod(t, s, "2025-Q1", core.NewDate(2025, 1, 1), core.NewDate(2025, 3, 31))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(q *Queries) error {
		_, err := q.InsertContribution(ctx, core.Contribution{
			PeriodID: p.ID, OwnerID: "u1",
			Amount: core.Money{Cents: 100}, Date: core.NewDate(2025, 1, 5),
		})
		if err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	rows, err := s.Queries().ListContributions(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("rollback failed, found %d rows", len(rows))
	}
}

func TestContributionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustCreatePeriod(t, s, "2025-Q1", core.NewDate(2025, 1, 1), core.NewDate(2025, 3, 31))

	c, err := s.Queries().InsertContribution(ctx, core.Contribution{
		PeriodID: p.ID, OwnerID: "u1",
		Amount: core.Money{Cents: 12345}, Date: core.NewDate(2025, 2, 14),
		Note: "quota", Opening: true,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Queries().ContributionByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Amount.Cents != 12345 || got.Note != "quota" || !got.Opening {
		t.Errorf("unexpected row %+v", got)
	}
	if !got.Date.Equal(core.NewDate(2025, 2, 14).Time) {
		t.Errorf("date round trip failed: %v", got.Date)
	}

	if _, err := s.Queries().ContributionByID(ctx, 999); !errors.Is(err, core.ErrRowNotFound) {
		t.Errorf("expected ErrRowNotFound, got %v", err)
	}
}

func TestExpenseBudgetItemNullability(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustCreatePeriod(t, s, "2025-Q1", core.NewDate(2025, 1, 1), core.NewDate(2025, 3, 31))

	item, err := s.Queries().InsertBudgetItem(ctx, core.BudgetItem{
		PeriodID: p.ID, Category: "pulizie",
		Budgeted: core.Money{Cents: 10000}, Strategy: core.StrategyFixedFee,
	})
	if err != nil {
		t.Fatal(err)
	}

	unlinked, err := s.Queries().InsertExpense(ctx, core.Expense{
		PeriodID: p.ID, PayerID: "u1", Amount: core.Money{Cents: 100},
		Category: "varie", Date: core.NewDate(2025, 1, 10),
	})
	if err != nil {
		t.Fatal(err)
	}
	linked, err := s.Queries().InsertExpense(ctx, core.Expense{
		PeriodID: p.ID, PayerID: "u1", Amount: core.Money{Cents: 200},
		Category: "pulizie", Date: core.NewDate(2025, 1, 11), BudgetItemID: item.ID,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := s.Queries().ExpenseByID(ctx, unlinked.ID)
	if got.BudgetItemID != 0 {
		t.Errorf("unlinked expense has budget item %d", got.BudgetItemID)
	}
	got, _ = s.Queries().ExpenseByID(ctx, linked.ID)
	if got.BudgetItemID != item.ID {
		t.Errorf("linked expense lost its budget item, got %d", got.BudgetItemID)
	}
}

func TestReplaceOwnerCharges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustCreatePeriod(t, s, "2025-Q1", core.NewDate(2025, 1, 1), core.NewDate(2025, 3, 31))

	e, err := s.Queries().InsertExpense(ctx, core.Expense{
		PeriodID: p.ID, PayerID: "u1", Amount: core.Money{Cents: 3000},
		Category: "pulizie", Date: core.NewDate(2025, 1, 10),
	})
	if err != nil {
		t.Fatal(err)
	}

	first := []core.OwnerCharge{
		{PeriodID: p.ID, OwnerID: "u1", ExpenseID: e.ID, Amount: core.Money{Cents: 1500}},
		{PeriodID: p.ID, OwnerID: "u2", ExpenseID: e.ID, Amount: core.Money{Cents: 1500}},
	}
	if err := s.Queries().ReplaceOwnerCharges(ctx, p.ID, first); err != nil {
		t.Fatal(err)
	}

	second := []core.OwnerCharge{
		{PeriodID: p.ID, OwnerID: "u1", ExpenseID: e.ID, Amount: core.Money{Cents: 3000}},
	}
	if err := s.Queries().ReplaceOwnerCharges(ctx, p.ID, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.Queries().ListOwnerCharges(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Amount.Cents != 3000 {
		t.Errorf("replace did not swap the set: %+v", got)
	}
}

func TestDeleteOpeningRowsLeavesUserRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustCreatePeriod(t, s, "2025-Q1", core.NewDate(2025, 1, 1), core.NewDate(2025, 3, 31))

	if _, err := s.Queries().InsertContribution(ctx, core.Contribution{
		PeriodID: p.ID, OwnerID: "u1", Amount: core.Money{Cents: 100},
		Date: core.NewDate(2025, 1, 5), Opening: true,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Queries().InsertContribution(ctx, core.Contribution{
		PeriodID: p.ID, OwnerID: "u1", Amount: core.Money{Cents: 200},
		Date: core.NewDate(2025, 1, 6),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Queries().InsertServiceCharge(ctx, core.ServiceCharge{
		PeriodID: p.ID, OwnerID: "u2", Amount: core.Money{Cents: 300},
		Description: "opening balance", Opening: true,
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.Queries().DeleteOpeningRows(ctx, p.ID); err != nil {
		t.Fatal(err)
	}

	contribs, _ := s.Queries().ListContributions(ctx, p.ID)
	if len(contribs) != 1 || contribs[0].Opening {
		t.Errorf("expected only the user contribution to survive, got %+v", contribs)
	}
	charges, _ := s.Queries().ListServiceCharges(ctx, p.ID)
	if len(charges) != 0 {
		t.Errorf("expected opening service charge gone, got %+v", charges)
	}
}
