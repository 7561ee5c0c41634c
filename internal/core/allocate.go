package core

import "sort"

// AllocateExpense turns one expense into per-owner charges according to the
// given strategy. The charges always sum to the expense amount exactly:
// every raw share is floored to the cent, and the leftover cents go as a
// lump to the eligible owner with the largest share weight (ties broken by
// smallest owner id).
//
// StrategyNone yields no charges; the expense stands as recorded.
//
// consumption maps owner id to metered usage and is only consulted for
// StrategyUsageBased.
func AllocateExpense(e Expense, strategy Strategy, owners []Owner, consumption map[string]int64) ([]OwnerCharge, error) {
	if !strategy.Valid() {
		return nil, ErrInvalidStrategy
	}
	if strategy == StrategyNone {
		return nil, nil
	}

	sorted := make([]Owner, len(owners))
	copy(sorted, owners)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var eligible []Owner
	var portion func(o Owner) int64

	switch strategy {
	case StrategyProportional:
		var sumWeight int64
		for _, o := range sorted {
			if o.Weight > 0 {
				eligible = append(eligible, o)
				sumWeight += o.Weight
			}
		}
		if sumWeight == 0 {
			return nil, ErrNoShareWeight
		}
		portion = func(o Owner) int64 {
			return e.Amount.Cents * o.Weight / sumWeight
		}

	case StrategyFixedFee:
		eligible = sorted
		if len(eligible) == 0 {
			return nil, ErrNoShareWeight
		}
		n := int64(len(eligible))
		portion = func(Owner) int64 {
			return e.Amount.Cents / n
		}

	case StrategyUsageBased:
		var sumConsumption int64
		for _, o := range sorted {
			if c := consumption[o.ID]; c > 0 {
				eligible = append(eligible, o)
				sumConsumption += c
			}
		}
		if sumConsumption == 0 {
			return nil, ErrNoConsumptionData
		}
		portion = func(o Owner) int64 {
			return e.Amount.Cents * consumption[o.ID] / sumConsumption
		}
	}

	charges := make([]OwnerCharge, 0, len(eligible))
	var allocated int64
	for _, o := range eligible {
		cents := portion(o)
		allocated += cents
		charges = append(charges, OwnerCharge{
			PeriodID:  e.PeriodID,
			OwnerID:   o.ID,
			ExpenseID: e.ID,
			Amount:    Money{Cents: cents},
		})
	}

	// Flooring leaves 0..len-1 cents unassigned; hand them to the
	// largest-weight owner. eligible is id-sorted, so the strict
	// comparison picks the smallest id among ties.
	if remainder := e.Amount.Cents - allocated; remainder != 0 {
		target := 0
		for i := 1; i < len(eligible); i++ {
			if eligible[i].Weight > eligible[target].Weight {
				target = i
			}
		}
		charges[target].Amount.Cents += remainder
	}

	return charges, nil
}

// StrategyForExpense resolves which strategy governs an expense: the linked
// budget item wins, then a budget item matching the expense category, then
// proportional as the default.
func StrategyForExpense(e Expense, items []BudgetItem) Strategy {
	if e.BudgetItemID != 0 {
		for _, item := range items {
			if item.ID == e.BudgetItemID {
				return item.Strategy
			}
		}
	}
	for _, item := range items {
		if item.Category == e.Category {
			return item.Strategy
		}
	}
	return StrategyProportional
}

// ConsumptionByOwner folds meter readings into per-owner usage. Owners with
// several meters get the sum.
func ConsumptionByOwner(readings []UtilityReading) map[string]int64 {
	usage := make(map[string]int64, len(readings))
	for _, r := range readings {
		usage[r.OwnerID] += r.Consumption()
	}
	return usage
}
