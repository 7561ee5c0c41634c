package core

import (
	"context"
	"errors"
	"strings"
	"time"
)

// PeriodStatus is the lifecycle state of an accounting period.
// Open periods accept ledger writes; closed periods are finalized.
type PeriodStatus string

const (
	PeriodOpen   PeriodStatus = "open"
	PeriodClosed PeriodStatus = "closed"
)

// Strategy is the rule used to split one expense across owners.
type Strategy string

const (
	// StrategyProportional splits by share weight (millesimi).
	StrategyProportional Strategy = "proportional"
	// StrategyFixedFee splits equally across all active owners.
	StrategyFixedFee Strategy = "fixed_fee"
	// StrategyUsageBased splits by metered consumption.
	StrategyUsageBased Strategy = "usage_based"
	// StrategyNone produces no allocation; the row stands against its
	// direct owner only.
	StrategyNone Strategy = "none"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyProportional, StrategyFixedFee, StrategyUsageBased, StrategyNone:
		return true
	}
	return false
}

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrEmptyName         = errors.New("empty name")
	ErrEmptyCategory     = errors.New("empty category")
	ErrEmptyDescription  = errors.New("empty description")
	ErrInvalidStrategy   = errors.New("invalid allocation strategy")
	ErrInvalidReading    = errors.New("end reading must not be below start reading")
	ErrInvalidRange      = errors.New("period start must be before end")
	ErrDuplicatePeriod   = errors.New("period name already exists")
	ErrPeriodNotFound    = errors.New("period not found")
	ErrPeriodNotOpen     = errors.New("period is not open")
	ErrPeriodNotClosed   = errors.New("period is not closed")
	ErrPeriodClosed      = errors.New("period is closed")
	ErrRowNotFound       = errors.New("ledger row not found")
	ErrUnknownOwner      = errors.New("unknown owner")
	ErrNoShareWeight     = errors.New("no share weight among eligible owners")
	ErrNoConsumptionData = errors.New("no consumption data for usage-based allocation")
	ErrBalanceIntegrity  = errors.New("balance integrity violation")
	ErrBudgetItemPeriod  = errors.New("budget item belongs to another period")
)

type (
	// Date is a calendar day in UTC; ledger rows carry no time of day.
	Date struct {
		time.Time
	}

	// Period is a named, date-bounded accounting container. Every ledger
	// row belongs to exactly one period. Periods are never deleted, only
	// closed and possibly reopened.
	Period struct {
		ID        int64
		Name      string
		StartDate Date
		EndDate   Date
		Status    PeriodStatus
		ClosedAt  *time.Time
	}

	// Owner is an entry from the external owner directory. The ledger
	// references owners by id and never persists them itself.
	//
	// Weight is the share weight in thousandths (condominium millesimi),
	// fixed point to keep proportional allocation exact.
	Owner struct {
		ID     string
		Name   string
		Weight int64
		Active bool
	}

	// Contribution is money paid into the community fund by an owner.
	// Opening marks a synthetic carry-forward row seeded at period close.
	Contribution struct {
		ID       int64
		PeriodID int64
		OwnerID  string
		Amount   Money
		Date     Date
		Note     string
		Opening  bool
	}

	// Expense is money paid out on behalf of the community, advanced by
	// one owner and later redistributed through allocation.
	// BudgetItemID is zero when the expense is not linked to a budget item.
	Expense struct {
		ID           int64
		PeriodID     int64
		PayerID      string
		Amount       Money
		Category     string
		Date         Date
		Vendor       string
		Description  string
		BudgetItemID int64
	}

	// BudgetItem governs how expenses of one category are turned into
	// per-owner charges.
	BudgetItem struct {
		ID       int64
		PeriodID int64
		Category string
		Budgeted Money
		Strategy Strategy
	}

	// UtilityReading is one meter's start/end reading for a period.
	// Meters belong to a single owner's unit; consumption feeds
	// usage-based allocation. Cost is derived at allocation time.
	UtilityReading struct {
		ID         int64
		PeriodID   int64
		MeterID    string
		OwnerID    string
		StartValue int64
		EndValue   int64
		Cost       Money
	}

	// ServiceCharge is a direct, non-allocated charge against exactly one
	// owner, e.g. a penalty or a carried-forward debt.
	ServiceCharge struct {
		ID          int64
		PeriodID    int64
		OwnerID     string
		Amount      Money
		Description string
		Opening     bool
	}

	// OwnerCharge is the allocated, per-owner portion of one expense.
	// The amounts for one expense always sum to the expense amount
	// exactly.
	OwnerCharge struct {
		PeriodID  int64
		OwnerID   string
		ExpenseID int64
		Amount    Money
	}
)

// OwnerDirectory resolves owner identity and activity. Identity lives
// outside the ledger; this is the only capability the core consumes.
type OwnerDirectory interface {
	// Owner returns the owner with the given id or ErrUnknownOwner.
	Owner(ctx context.Context, id string) (Owner, error)
	// ActiveOwners lists the owners active in the given period, any order.
	ActiveOwners(ctx context.Context, periodID int64) ([]Owner, error)
}

// NewDate creates a Date from year, month, day in UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// NewPeriod validates and builds an open period. The period is persisted
// by the caller; ID stays zero until then.
func NewPeriod(name string, start, end Date) (Period, error) {
	if strings.TrimSpace(name) == "" {
		return Period{}, ErrEmptyName
	}
	if start.IsZero() || end.IsZero() || !start.Before(end.Time) {
		return Period{}, ErrInvalidRange
	}
	return Period{
		Name:      name,
		StartDate: start,
		EndDate:   end,
		Status:    PeriodOpen,
	}, nil
}

// IsOpen reports whether the period accepts ledger writes.
func (p Period) IsOpen() bool {
	return p.Status == PeriodOpen
}

func (c Contribution) Validate() error {
	if strings.TrimSpace(c.OwnerID) == "" {
		return ErrUnknownOwner
	}
	if err := c.Amount.Validate(); err != nil {
		return err
	}
	return c.Date.Validate()
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.PayerID) == "" {
		return ErrUnknownOwner
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	return e.Date.Validate()
}

func (b BudgetItem) Validate() error {
	if strings.TrimSpace(b.Category) == "" {
		return ErrEmptyCategory
	}
	if err := b.Budgeted.Validate(); err != nil {
		return err
	}
	if !b.Strategy.Valid() {
		return ErrInvalidStrategy
	}
	return nil
}

func (r UtilityReading) Validate() error {
	if strings.TrimSpace(r.MeterID) == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(r.OwnerID) == "" {
		return ErrUnknownOwner
	}
	if r.EndValue < r.StartValue {
		return ErrInvalidReading
	}
	return nil
}

// Consumption is the metered usage for the period, in meter units.
func (r UtilityReading) Consumption() int64 {
	return r.EndValue - r.StartValue
}

func (s ServiceCharge) Validate() error {
	if strings.TrimSpace(s.OwnerID) == "" {
		return ErrUnknownOwner
	}
	if err := s.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(s.Description) == "" {
		return ErrEmptyDescription
	}
	return nil
}
