package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func bal(block, active, withdrawal string) Balances {
	return Balances{Block: dec(block), Active: dec(active), Withdrawal: dec(withdrawal)}
}

func TestReconcile_FirstDepositSetsBaseline(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	old := bal("0", "0", "0")

	res := Reconcile(&old, State{Balances: bal("500", "0", "0")}, now)

	if !res.Deposit.Valid || !res.Deposit.Decimal.Equal(dec("500")) {
		t.Fatalf("expected deposit 500, got %+v", res.Deposit)
	}
	if res.DepositTime == nil || !res.DepositTime.Equal(now) {
		t.Fatalf("expected deposit_time %v, got %v", now, res.DepositTime)
	}
	if res.MigrationTime != nil {
		t.Fatalf("expected migration_time to stay unset, got %v", res.MigrationTime)
	}
	if !res.DepositChanged {
		t.Fatal("expected DepositChanged")
	}
}

func TestReconcile_CreationWithBalanceTreatsOldAsZero(t *testing.T) {
	now := time.Now()
	res := Reconcile(nil, State{Balances: bal("120.5", "0", "0")}, now)

	if !res.Deposit.Valid || !res.Deposit.Decimal.Equal(dec("120.5")) {
		t.Fatalf("expected deposit 120.5, got %+v", res.Deposit)
	}
	if res.Transition != TransitionNone {
		t.Fatalf("expected no transition on creation, got %s", res.Transition)
	}
}

func TestReconcile_FullResetClearsLifecycle(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-48 * time.Hour)
	old := bal("0", "0", "700")

	res := Reconcile(&old, State{
		Balances:            bal("0", "0", "0"),
		Deposit:             decimal.NewNullDecimal(dec("700")),
		DepositTime:         &earlier,
		MigrationTime:       &earlier,
		SecondMigrationTime: &earlier,
	}, now)

	if !res.Reset {
		t.Fatal("expected reset")
	}
	if res.Deposit.Valid || res.DepositTime != nil || res.MigrationTime != nil || res.SecondMigrationTime != nil {
		t.Fatalf("expected lifecycle fields cleared, got %+v", res.State)
	}
}

func TestReconcile_MigrationNeverChangesDeposit(t *testing.T) {
	now := time.Now()
	t0 := now.Add(-25 * time.Hour)

	tests := []struct {
		name       string
		old        Balances
		next       Balances
		transition Transition
	}{
		{name: "block to active", old: bal("500", "0", "0"), next: bal("0", "500", "0"), transition: TransitionBlockToActive},
		{name: "active to withdrawal", old: bal("0", "500", "0"), next: bal("0", "0", "500"), transition: TransitionActiveToWithdrawal},
		{name: "partial block to active with growth", old: bal("500", "100", "0"), next: bal("100", "900", "0"), transition: TransitionBlockToActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := tt.old
			res := Reconcile(&old, State{
				Balances:      tt.next,
				Deposit:       decimal.NewNullDecimal(dec("500")),
				MigrationTime: &t0,
			}, now)

			if res.Transition != tt.transition {
				t.Fatalf("expected transition %s, got %s", tt.transition, res.Transition)
			}
			if !res.Deposit.Decimal.Equal(dec("500")) || res.DepositChanged {
				t.Fatalf("expected deposit untouched, got %+v", res.Deposit)
			}
		})
	}
}

func TestReconcile_StampsStageTransitions(t *testing.T) {
	now := time.Now()
	t0 := now.Add(-time.Hour)

	old := bal("500", "0", "0")
	res := Reconcile(&old, State{Balances: bal("0", "500", "0"), Deposit: decimal.NewNullDecimal(dec("500")), MigrationTime: &t0, SecondMigrationTime: &t0}, now)
	if res.MigrationTime == nil || !res.MigrationTime.Equal(now) {
		t.Fatalf("expected migration_time stamped, got %v", res.MigrationTime)
	}
	if !res.SecondMigrationTime.Equal(t0) {
		t.Fatalf("expected second_migration_time untouched, got %v", res.SecondMigrationTime)
	}

	old = bal("0", "500", "0")
	res = Reconcile(&old, State{Balances: bal("0", "0", "500"), Deposit: decimal.NewNullDecimal(dec("500")), MigrationTime: &t0, SecondMigrationTime: &t0}, now)
	if res.SecondMigrationTime == nil || !res.SecondMigrationTime.Equal(now) {
		t.Fatalf("expected second_migration_time stamped, got %v", res.SecondMigrationTime)
	}
	if !res.MigrationTime.Equal(t0) {
		t.Fatalf("expected migration_time untouched, got %v", res.MigrationTime)
	}
}

func TestReconcile_DepositRules(t *testing.T) {
	now := time.Now()
	migrated := now.Add(-time.Hour)

	tests := []struct {
		name          string
		old           Balances
		next          Balances
		deposit       decimal.NullDecimal
		migrationTime *time.Time
		want          decimal.NullDecimal
	}{
		{
			name:    "fills missing deposit on later write",
			old:     bal("100", "0", "0"),
			next:    bal("150", "0", "0"),
			deposit: decimal.NullDecimal{},
			want:    decimal.NewNullDecimal(dec("150")),
		},
		{
			name:    "replaces zero deposit",
			old:     bal("100", "0", "0"),
			next:    bal("100", "0", "5"),
			deposit: decimal.NewNullDecimal(decimal.Zero),
			want:    decimal.NewNullDecimal(dec("105")),
		},
		{
			name:    "late top-up before migration raises deposit",
			old:     bal("100", "0", "0"),
			next:    bal("250", "0", "0"),
			deposit: decimal.NewNullDecimal(dec("100")),
			want:    decimal.NewNullDecimal(dec("250")),
		},
		{
			name:          "top-up after migration is absorbed without adjusting deposit",
			old:           bal("0", "100", "0"),
			next:          bal("0", "250", "0"),
			deposit:       decimal.NewNullDecimal(dec("100")),
			migrationTime: &migrated,
			want:          decimal.NewNullDecimal(dec("100")),
		},
		{
			name:    "withdrawal below deposit leaves baseline",
			old:     bal("100", "0", "0"),
			next:    bal("40", "0", "0"),
			deposit: decimal.NewNullDecimal(dec("100")),
			want:    decimal.NewNullDecimal(dec("100")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := tt.old
			res := Reconcile(&old, State{Balances: tt.next, Deposit: tt.deposit, MigrationTime: tt.migrationTime}, now)
			if res.Deposit.Valid != tt.want.Valid || !res.Deposit.Decimal.Equal(tt.want.Decimal) {
				t.Fatalf("expected deposit %+v, got %+v", tt.want, res.Deposit)
			}
		})
	}
}

// Negative and multi-stage balances are tolerated rather than rejected.
func TestReconcile_PermissiveBalances(t *testing.T) {
	now := time.Now()
	old := bal("100", "0", "0")

	res := Reconcile(&old, State{Balances: bal("-20", "0", "0"), Deposit: decimal.NewNullDecimal(dec("100"))}, now)
	if res.Reset {
		t.Fatal("negative total must not be treated as a reset")
	}
	if !res.Block.Equal(dec("-20")) {
		t.Fatalf("expected negative block balance preserved, got %s", res.Block)
	}

	old = bal("100", "0", "0")
	res = Reconcile(&old, State{Balances: bal("30", "70", "10"), Deposit: decimal.NewNullDecimal(dec("100"))}, now)
	if res.Transition != TransitionBlockToActive {
		t.Fatalf("expected overlapping stages to still register a migration, got %s", res.Transition)
	}
}

func TestClientTotal(t *testing.T) {
	got := ClientTotal([]decimal.Decimal{dec("100.25"), dec("0"), dec("49.75")})
	if !got.Equal(dec("150")) {
		t.Fatalf("expected 150, got %s", got)
	}
	if !ClientTotal(nil).IsZero() {
		t.Fatal("expected zero total for no satellites")
	}
}

func TestSameDeposit(t *testing.T) {
	tests := []struct {
		name string
		a, b decimal.NullDecimal
		want bool
	}{
		{"both null", decimal.NullDecimal{}, decimal.NullDecimal{}, true},
		{"null and zero", decimal.NullDecimal{}, decimal.NewNullDecimal(dec("0")), false},
		{"equal with different scale", decimal.NewNullDecimal(dec("100")), decimal.NewNullDecimal(dec("100.00")), true},
		{"different amounts", decimal.NewNullDecimal(dec("100")), decimal.NewNullDecimal(dec("100.5")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SameDeposit(tt.a, tt.b); got != tt.want {
				t.Fatalf("SameDeposit(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
