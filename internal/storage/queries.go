package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"condominio/internal/core"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so the same queries serve
// plain reads and transactional writes.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

const dateLayout = "2006-01-02"

func fmtDate(d core.Date) string {
	return d.Format(dateLayout)
}

func parseDate(s string) (core.Date, error) {
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return core.Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return core.Date{Time: t}, nil
}

// ---- periods ----

// CreatePeriod persists a new open period. Names are unique across all
// periods; a clash maps to core.ErrDuplicatePeriod.
func (q *Queries) CreatePeriod(ctx context.Context, p core.Period) (core.Period, error) {
	var exists int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM periods WHERE name = ?`, p.Name).Scan(&exists)
	if err != nil {
		return core.Period{}, fmt.Errorf("check period name: %w", err)
	}
	if exists > 0 {
		return core.Period{}, core.ErrDuplicatePeriod
	}

	res, err := q.db.ExecContext(ctx,
		`INSERT INTO periods (name, start_date, end_date, status) VALUES (?, ?, ?, ?)`,
		p.Name, fmtDate(p.StartDate), fmtDate(p.EndDate), string(p.Status),
	)
	if err != nil {
		return core.Period{}, fmt.Errorf("insert period: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Period{}, fmt.Errorf("period id: %w", err)
	}
	p.ID = id
	return p, nil
}

func (q *Queries) scanPeriod(row *sql.Row) (core.Period, error) {
	var p core.Period
	var start, end string
	var status string
	var closedAt sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &start, &end, &status, &closedAt); err != nil {
		if err == sql.ErrNoRows {
			return core.Period{}, core.ErrPeriodNotFound
		}
		return core.Period{}, fmt.Errorf("scan period: %w", err)
	}
	var err error
	if p.StartDate, err = parseDate(start); err != nil {
		return core.Period{}, err
	}
	if p.EndDate, err = parseDate(end); err != nil {
		return core.Period{}, err
	}
	p.Status = core.PeriodStatus(status)
	if closedAt.Valid {
		t, err := time.Parse(time.RFC3339, closedAt.String)
		if err != nil {
			return core.Period{}, fmt.Errorf("parse closed_at: %w", err)
		}
		p.ClosedAt = &t
	}
	return p, nil
}

func (q *Queries) PeriodByID(ctx context.Context, id int64) (core.Period, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, name, start_date, end_date, status, closed_at FROM periods WHERE id = ?`, id)
	return q.scanPeriod(row)
}

// PeriodsAfter returns all periods starting strictly after the given date,
// ordered by start date. This is the forward-propagation list walked when a
// reopened period is re-closed.
func (q *Queries) PeriodsAfter(ctx context.Context, start core.Date) ([]core.Period, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, name, start_date, end_date, status, closed_at
		 FROM periods WHERE start_date > ? ORDER BY start_date ASC`, fmtDate(start))
	if err != nil {
		return nil, fmt.Errorf("list periods after: %w", err)
	}
	defer rows.Close()

	var periods []core.Period
	for rows.Next() {
		var p core.Period
		var startStr, endStr, status string
		var closedAt sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &startStr, &endStr, &status, &closedAt); err != nil {
			return nil, fmt.Errorf("scan period: %w", err)
		}
		if p.StartDate, err = parseDate(startStr); err != nil {
			return nil, err
		}
		if p.EndDate, err = parseDate(endStr); err != nil {
			return nil, err
		}
		p.Status = core.PeriodStatus(status)
		if closedAt.Valid {
			t, err := time.Parse(time.RFC3339, closedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse closed_at: %w", err)
			}
			p.ClosedAt = &t
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// ListPeriods returns every period ordered by start date.
func (q *Queries) ListPeriods(ctx context.Context) ([]core.Period, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, name, start_date, end_date, status, closed_at
		 FROM periods ORDER BY start_date ASC`)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	defer rows.Close()

	var periods []core.Period
	for rows.Next() {
		var p core.Period
		var startStr, endStr, status string
		var closedAt sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &startStr, &endStr, &status, &closedAt); err != nil {
			return nil, fmt.Errorf("scan period: %w", err)
		}
		if p.StartDate, err = parseDate(startStr); err != nil {
			return nil, err
		}
		if p.EndDate, err = parseDate(endStr); err != nil {
			return nil, err
		}
		p.Status = core.PeriodStatus(status)
		if closedAt.Valid {
			t, err := time.Parse(time.RFC3339, closedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse closed_at: %w", err)
			}
			p.ClosedAt = &t
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// TransitionPeriod flips a period's status with a single conditional
// update, so two concurrent callers can never both see the old state. It
// returns false when the period was not in the expected state.
func (q *Queries) TransitionPeriod(ctx context.Context, id int64, from, to core.PeriodStatus, closedAt *time.Time) (bool, error) {
	var closed any
	if closedAt != nil {
		closed = closedAt.UTC().Format(time.RFC3339)
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE periods SET status = ?, closed_at = ? WHERE id = ? AND status = ?`,
		string(to), closed, id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("transition period: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition period rows: %w", err)
	}
	return n == 1, nil
}

// ---- contributions ----

func (q *Queries) InsertContribution(ctx context.Context, c core.Contribution) (core.Contribution, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO contributions (period_id, owner_id, amount_cents, entry_date, note, opening)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.PeriodID, c.OwnerID, c.Amount.Cents, fmtDate(c.Date), c.Note, c.Opening,
	)
	if err != nil {
		return core.Contribution{}, fmt.Errorf("insert contribution: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return core.Contribution{}, fmt.Errorf("contribution id: %w", err)
	}
	return c, nil
}

func (q *Queries) UpdateContribution(ctx context.Context, c core.Contribution) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE contributions SET owner_id = ?, amount_cents = ?, entry_date = ?, note = ?
		 WHERE id = ? AND period_id = ?`,
		c.OwnerID, c.Amount.Cents, fmtDate(c.Date), c.Note, c.ID, c.PeriodID,
	)
	if err != nil {
		return fmt.Errorf("update contribution: %w", err)
	}
	return requireRow(res)
}

func (q *Queries) ContributionByID(ctx context.Context, id int64) (core.Contribution, error) {
	var c core.Contribution
	var date string
	err := q.db.QueryRowContext(ctx,
		`SELECT id, period_id, owner_id, amount_cents, entry_date, note, opening
		 FROM contributions WHERE id = ?`, id).
		Scan(&c.ID, &c.PeriodID, &c.OwnerID, &c.Amount.Cents, &date, &c.Note, &c.Opening)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Contribution{}, core.ErrRowNotFound
		}
		return core.Contribution{}, fmt.Errorf("get contribution: %w", err)
	}
	if c.Date, err = parseDate(date); err != nil {
		return core.Contribution{}, err
	}
	return c, nil
}

func (q *Queries) ListContributions(ctx context.Context, periodID int64) ([]core.Contribution, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, period_id, owner_id, amount_cents, entry_date, note, opening
		 FROM contributions WHERE period_id = ? ORDER BY id`, periodID)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer rows.Close()

	var out []core.Contribution
	for rows.Next() {
		var c core.Contribution
		var date string
		if err := rows.Scan(&c.ID, &c.PeriodID, &c.OwnerID, &c.Amount.Cents, &date, &c.Note, &c.Opening); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		if c.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- expenses ----

func (q *Queries) InsertExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	var budgetItemID any
	if e.BudgetItemID != 0 {
		budgetItemID = e.BudgetItemID
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO expenses (period_id, payer_id, amount_cents, category, entry_date, vendor, description, budget_item_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.PeriodID, e.PayerID, e.Amount.Cents, e.Category, fmtDate(e.Date), e.Vendor, e.Description, budgetItemID,
	)
	if err != nil {
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense id: %w", err)
	}
	return e, nil
}

func (q *Queries) UpdateExpense(ctx context.Context, e core.Expense) error {
	var budgetItemID any
	if e.BudgetItemID != 0 {
		budgetItemID = e.BudgetItemID
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE expenses SET payer_id = ?, amount_cents = ?, category = ?, entry_date = ?, vendor = ?, description = ?, budget_item_id = ?
		 WHERE id = ? AND period_id = ?`,
		e.PayerID, e.Amount.Cents, e.Category, fmtDate(e.Date), e.Vendor, e.Description, budgetItemID, e.ID, e.PeriodID,
	)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	return requireRow(res)
}

func (q *Queries) ExpenseByID(ctx context.Context, id int64) (core.Expense, error) {
	var e core.Expense
	var date string
	var budgetItemID sql.NullInt64
	err := q.db.QueryRowContext(ctx,
		`SELECT id, period_id, payer_id, amount_cents, category, entry_date, vendor, description, budget_item_id
		 FROM expenses WHERE id = ?`, id).
		Scan(&e.ID, &e.PeriodID, &e.PayerID, &e.Amount.Cents, &e.Category, &date, &e.Vendor, &e.Description, &budgetItemID)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Expense{}, core.ErrRowNotFound
		}
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	if e.Date, err = parseDate(date); err != nil {
		return core.Expense{}, err
	}
	if budgetItemID.Valid {
		e.BudgetItemID = budgetItemID.Int64
	}
	return e, nil
}

func (q *Queries) ListExpenses(ctx context.Context, periodID int64) ([]core.Expense, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, period_id, payer_id, amount_cents, category, entry_date, vendor, description, budget_item_id
		 FROM expenses WHERE period_id = ? ORDER BY id`, periodID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		var e core.Expense
		var date string
		var budgetItemID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.PeriodID, &e.PayerID, &e.Amount.Cents, &e.Category, &date, &e.Vendor, &e.Description, &budgetItemID); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		if e.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		if budgetItemID.Valid {
			e.BudgetItemID = budgetItemID.Int64
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- budget items ----

func (q *Queries) InsertBudgetItem(ctx context.Context, b core.BudgetItem) (core.BudgetItem, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO budget_items (period_id, category, budgeted_cents, strategy) VALUES (?, ?, ?, ?)`,
		b.PeriodID, b.Category, b.Budgeted.Cents, string(b.Strategy),
	)
	if err != nil {
		return core.BudgetItem{}, fmt.Errorf("insert budget item: %w", err)
	}
	b.ID, err = res.LastInsertId()
	if err != nil {
		return core.BudgetItem{}, fmt.Errorf("budget item id: %w", err)
	}
	return b, nil
}

func (q *Queries) UpdateBudgetItem(ctx context.Context, b core.BudgetItem) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE budget_items SET category = ?, budgeted_cents = ?, strategy = ? WHERE id = ? AND period_id = ?`,
		b.Category, b.Budgeted.Cents, string(b.Strategy), b.ID, b.PeriodID,
	)
	if err != nil {
		return fmt.Errorf("update budget item: %w", err)
	}
	return requireRow(res)
}

func (q *Queries) BudgetItemByID(ctx context.Context, id int64) (core.BudgetItem, error) {
	var b core.BudgetItem
	var strategy string
	err := q.db.QueryRowContext(ctx,
		`SELECT id, period_id, category, budgeted_cents, strategy FROM budget_items WHERE id = ?`, id).
		Scan(&b.ID, &b.PeriodID, &b.Category, &b.Budgeted.Cents, &strategy)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.BudgetItem{}, core.ErrRowNotFound
		}
		return core.BudgetItem{}, fmt.Errorf("get budget item: %w", err)
	}
	b.Strategy = core.Strategy(strategy)
	return b, nil
}

func (q *Queries) ListBudgetItems(ctx context.Context, periodID int64) ([]core.BudgetItem, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, period_id, category, budgeted_cents, strategy FROM budget_items WHERE period_id = ? ORDER BY id`, periodID)
	if err != nil {
		return nil, fmt.Errorf("list budget items: %w", err)
	}
	defer rows.Close()

	var out []core.BudgetItem
	for rows.Next() {
		var b core.BudgetItem
		var strategy string
		if err := rows.Scan(&b.ID, &b.PeriodID, &b.Category, &b.Budgeted.Cents, &strategy); err != nil {
			return nil, fmt.Errorf("scan budget item: %w", err)
		}
		b.Strategy = core.Strategy(strategy)
		out = append(out, b)
	}
	return out, rows.Err()
}

// ---- utility readings ----

func (q *Queries) InsertReading(ctx context.Context, r core.UtilityReading) (core.UtilityReading, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO utility_readings (period_id, meter_id, owner_id, start_value, end_value, cost_cents)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.PeriodID, r.MeterID, r.OwnerID, r.StartValue, r.EndValue, r.Cost.Cents,
	)
	if err != nil {
		return core.UtilityReading{}, fmt.Errorf("insert reading: %w", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return core.UtilityReading{}, fmt.Errorf("reading id: %w", err)
	}
	return r, nil
}

func (q *Queries) UpdateReading(ctx context.Context, r core.UtilityReading) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE utility_readings SET meter_id = ?, owner_id = ?, start_value = ?, end_value = ?, cost_cents = ?
		 WHERE id = ? AND period_id = ?`,
		r.MeterID, r.OwnerID, r.StartValue, r.EndValue, r.Cost.Cents, r.ID, r.PeriodID,
	)
	if err != nil {
		return fmt.Errorf("update reading: %w", err)
	}
	return requireRow(res)
}

func (q *Queries) ReadingByID(ctx context.Context, id int64) (core.UtilityReading, error) {
	var r core.UtilityReading
	err := q.db.QueryRowContext(ctx,
		`SELECT id, period_id, meter_id, owner_id, start_value, end_value, cost_cents
		 FROM utility_readings WHERE id = ?`, id).
		Scan(&r.ID, &r.PeriodID, &r.MeterID, &r.OwnerID, &r.StartValue, &r.EndValue, &r.Cost.Cents)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.UtilityReading{}, core.ErrRowNotFound
		}
		return core.UtilityReading{}, fmt.Errorf("get reading: %w", err)
	}
	return r, nil
}

func (q *Queries) ListReadings(ctx context.Context, periodID int64) ([]core.UtilityReading, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, period_id, meter_id, owner_id, start_value, end_value, cost_cents
		 FROM utility_readings WHERE period_id = ? ORDER BY id`, periodID)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	var out []core.UtilityReading
	for rows.Next() {
		var r core.UtilityReading
		if err := rows.Scan(&r.ID, &r.PeriodID, &r.MeterID, &r.OwnerID, &r.StartValue, &r.EndValue, &r.Cost.Cents); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetReadingCost records the cost share derived for one reading when its
// usage-based category is allocated.
func (q *Queries) SetReadingCost(ctx context.Context, id int64, cost core.Money) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE utility_readings SET cost_cents = ? WHERE id = ?`, cost.Cents, id)
	if err != nil {
		return fmt.Errorf("set reading cost: %w", err)
	}
	return requireRow(res)
}

// ---- service charges ----

func (q *Queries) InsertServiceCharge(ctx context.Context, s core.ServiceCharge) (core.ServiceCharge, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO service_charges (period_id, owner_id, amount_cents, description, opening)
		 VALUES (?, ?, ?, ?, ?)`,
		s.PeriodID, s.OwnerID, s.Amount.Cents, s.Description, s.Opening,
	)
	if err != nil {
		return core.ServiceCharge{}, fmt.Errorf("insert service charge: %w", err)
	}
	s.ID, err = res.LastInsertId()
	if err != nil {
		return core.ServiceCharge{}, fmt.Errorf("service charge id: %w", err)
	}
	return s, nil
}

func (q *Queries) UpdateServiceCharge(ctx context.Context, s core.ServiceCharge) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE service_charges SET owner_id = ?, amount_cents = ?, description = ?
		 WHERE id = ? AND period_id = ?`,
		s.OwnerID, s.Amount.Cents, s.Description, s.ID, s.PeriodID,
	)
	if err != nil {
		return fmt.Errorf("update service charge: %w", err)
	}
	return requireRow(res)
}

func (q *Queries) ServiceChargeByID(ctx context.Context, id int64) (core.ServiceCharge, error) {
	var s core.ServiceCharge
	err := q.db.QueryRowContext(ctx,
		`SELECT id, period_id, owner_id, amount_cents, description, opening
		 FROM service_charges WHERE id = ?`, id).
		Scan(&s.ID, &s.PeriodID, &s.OwnerID, &s.Amount.Cents, &s.Description, &s.Opening)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.ServiceCharge{}, core.ErrRowNotFound
		}
		return core.ServiceCharge{}, fmt.Errorf("get service charge: %w", err)
	}
	return s, nil
}

func (q *Queries) ListServiceCharges(ctx context.Context, periodID int64) ([]core.ServiceCharge, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, period_id, owner_id, amount_cents, description, opening
		 FROM service_charges WHERE period_id = ? ORDER BY id`, periodID)
	if err != nil {
		return nil, fmt.Errorf("list service charges: %w", err)
	}
	defer rows.Close()

	var out []core.ServiceCharge
	for rows.Next() {
		var s core.ServiceCharge
		if err := rows.Scan(&s.ID, &s.PeriodID, &s.OwnerID, &s.Amount.Cents, &s.Description, &s.Opening); err != nil {
			return nil, fmt.Errorf("scan service charge: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ---- owner charges ----

// ReplaceOwnerCharges swaps a period's stored allocation output. Close and
// re-close always rebuild the whole set, never append.
func (q *Queries) ReplaceOwnerCharges(ctx context.Context, periodID int64, charges []core.OwnerCharge) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM owner_charges WHERE period_id = ?`, periodID); err != nil {
		return fmt.Errorf("clear owner charges: %w", err)
	}
	for _, c := range charges {
		_, err := q.db.ExecContext(ctx,
			`INSERT INTO owner_charges (period_id, owner_id, expense_id, amount_cents) VALUES (?, ?, ?, ?)`,
			c.PeriodID, c.OwnerID, c.ExpenseID, c.Amount.Cents,
		)
		if err != nil {
			return fmt.Errorf("insert owner charge: %w", err)
		}
	}
	return nil
}

func (q *Queries) ListOwnerCharges(ctx context.Context, periodID int64) ([]core.OwnerCharge, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT period_id, owner_id, expense_id, amount_cents
		 FROM owner_charges WHERE period_id = ? ORDER BY expense_id, owner_id`, periodID)
	if err != nil {
		return nil, fmt.Errorf("list owner charges: %w", err)
	}
	defer rows.Close()

	var out []core.OwnerCharge
	for rows.Next() {
		var c core.OwnerCharge
		if err := rows.Scan(&c.PeriodID, &c.OwnerID, &c.ExpenseID, &c.Amount.Cents); err != nil {
			return nil, fmt.Errorf("scan owner charge: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteOpeningRows removes the synthetic carry-forward rows of a period so
// a re-closed predecessor can reseed them without duplication.
func (q *Queries) DeleteOpeningRows(ctx context.Context, periodID int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM contributions WHERE period_id = ? AND opening = 1`, periodID); err != nil {
		return fmt.Errorf("delete opening contributions: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM service_charges WHERE period_id = ? AND opening = 1`, periodID); err != nil {
		return fmt.Errorf("delete opening service charges: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrRowNotFound
	}
	return nil
}
