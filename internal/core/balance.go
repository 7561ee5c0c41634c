package core

import (
	"fmt"
	"sort"
)

type (
	// OwnerBalance is one owner's aggregate for a period. Balance is
	// signed: positive means the community owes the owner, negative the
	// owner owes the community.
	OwnerBalance struct {
		OwnerID       string
		Contributions Money
		Allocated     Money
		Direct        Money
		Balance       Money
	}

	// BalanceSheet is the per-owner aggregate of one period, rows sorted
	// by owner id.
	BalanceSheet struct {
		PeriodID           int64
		Rows               []OwnerBalance
		TotalContributions Money
		TotalCharges       Money
		Net                Money
	}
)

// BuildBalanceSheet aggregates a period's ledger rows into per-owner
// balances. allocatable is the sum of all raw expense amounts that were fed
// through the allocation engine (strategies other than none); it anchors
// the integrity equation
//
//	sum(balances) == sum(contributions) - allocatable - sum(service charges)
//
// which only holds when allocation lost or created no money. A violation is
// an allocation bug and returns ErrBalanceIntegrity; it is never silently
// reconciled.
func BuildBalanceSheet(periodID int64, owners []Owner, contributions []Contribution, charges []OwnerCharge, serviceCharges []ServiceCharge, allocatable Money) (*BalanceSheet, error) {
	byOwner := make(map[string]*OwnerBalance)
	ensure := func(id string) *OwnerBalance {
		if b, ok := byOwner[id]; ok {
			return b
		}
		b := &OwnerBalance{OwnerID: id}
		byOwner[id] = b
		return b
	}

	// Every active owner gets a row, settled or not.
	for _, o := range owners {
		ensure(o.ID)
	}

	var totalContrib, totalAllocated, totalDirect int64
	for _, c := range contributions {
		ensure(c.OwnerID).Contributions.Cents += c.Amount.Cents
		totalContrib += c.Amount.Cents
	}
	for _, ch := range charges {
		ensure(ch.OwnerID).Allocated.Cents += ch.Amount.Cents
		totalAllocated += ch.Amount.Cents
	}
	for _, sc := range serviceCharges {
		ensure(sc.OwnerID).Direct.Cents += sc.Amount.Cents
		totalDirect += sc.Amount.Cents
	}

	if totalAllocated != allocatable.Cents {
		return nil, fmt.Errorf("%w: allocated %d cents from %d cents of expenses", ErrBalanceIntegrity, totalAllocated, allocatable.Cents)
	}

	var sumBalances int64
	rows := make([]OwnerBalance, 0, len(byOwner))
	for _, b := range byOwner {
		b.Balance.Cents = b.Contributions.Cents - b.Allocated.Cents - b.Direct.Cents
		sumBalances += b.Balance.Cents
		rows = append(rows, *b)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].OwnerID < rows[j].OwnerID })

	if expected := totalContrib - allocatable.Cents - totalDirect; sumBalances != expected {
		return nil, fmt.Errorf("%w: balances sum to %d cents, expected %d", ErrBalanceIntegrity, sumBalances, expected)
	}

	return &BalanceSheet{
		PeriodID:           periodID,
		Rows:               rows,
		TotalContributions: Money{Cents: totalContrib},
		TotalCharges:       Money{Cents: totalAllocated + totalDirect},
		Net:                Money{Cents: sumBalances},
	}, nil
}

// Row returns the balance row for an owner, if present.
func (s *BalanceSheet) Row(ownerID string) (OwnerBalance, bool) {
	for _, r := range s.Rows {
		if r.OwnerID == ownerID {
			return r, true
		}
	}
	return OwnerBalance{}, false
}

// CarryForward turns a closed period's non-zero balances into synthetic
// opening rows for the successor period: a credit becomes a contribution
// (the owner starts with recorded prepayment), a debt becomes a service
// charge (the owner starts with an outstanding amount). Rows are flagged
// Opening so a later re-close can replace rather than duplicate them.
func CarryForward(sheet *BalanceSheet, toPeriodID int64, date Date) ([]Contribution, []ServiceCharge) {
	var credits []Contribution
	var debts []ServiceCharge
	for _, row := range sheet.Rows {
		switch {
		case row.Balance.Cents > 0:
			credits = append(credits, Contribution{
				PeriodID: toPeriodID,
				OwnerID:  row.OwnerID,
				Amount:   row.Balance,
				Date:     date,
				Note:     "opening balance",
				Opening:  true,
			})
		case row.Balance.Cents < 0:
			debts = append(debts, ServiceCharge{
				PeriodID:    toPeriodID,
				OwnerID:     row.OwnerID,
				Amount:      Money{Cents: -row.Balance.Cents},
				Description: "opening balance",
				Opening:     true,
			})
		}
	}
	return credits, debts
}
