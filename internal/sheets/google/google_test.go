package google

import (
	"testing"

	"condominio/internal/core"
)

func TestTabName(t *testing.T) {
	p := core.Period{ID: 1, Name: " 2025-Q1 "}
	if got := tabName(p); got != "2025-Q1 Bilancio" {
		t.Errorf("tabName = %q, want %q", got, "2025-Q1 Bilancio")
	}
}

func TestBalanceRows(t *testing.T) {
	sheet := &core.BalanceSheet{
		PeriodID: 1,
		Rows: []core.OwnerBalance{
			{
				OwnerID:       "u1",
				Contributions: core.Money{Cents: 10000},
				Allocated:     core.Money{Cents: 4500},
				Balance:       core.Money{Cents: 5500},
			},
			{
				OwnerID:   "u2",
				Allocated: core.Money{Cents: 2700},
				Direct:    core.Money{Cents: 1000},
				Balance:   core.Money{Cents: -3700},
			},
		},
		TotalContributions: core.Money{Cents: 10000},
		TotalCharges:       core.Money{Cents: 8200},
		Net:                core.Money{Cents: 1800},
	}

	values := balanceRows(core.Period{ID: 1, Name: "2025-Q1"}, sheet)

	// header + 2 owners + totals
	if len(values) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(values))
	}
	if values[0][0] != "Proprietario" {
		t.Errorf("unexpected header %v", values[0])
	}
	if values[1][0] != "u1" || values[1][4] != 55.00 {
		t.Errorf("unexpected u1 row %v", values[1])
	}
	if values[2][0] != "u2" || values[2][4] != -37.00 {
		t.Errorf("unexpected u2 row %v", values[2])
	}
	if values[3][0] != "Totale" || values[3][1] != 100.00 {
		t.Errorf("unexpected totals row %v", values[3])
	}
}
