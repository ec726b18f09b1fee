package ledger

import "testing"

func TestProjectGrowth(t *testing.T) {
	// 1000 * 2 * 1.1 * 0.99975 - 2000
	got := ProjectGrowth(dec("1000"), dec("2"), dec("10"), dec("0.00025"))
	if !got.Equal(dec("199.45")) {
		t.Fatalf("expected 199.45, got %s", got)
	}
}

func TestApplyProjection(t *testing.T) {
	tests := []struct {
		name string
		in   Balances
		want Balances
	}{
		{name: "active stage receives amount", in: bal("0", "10", "0"), want: bal("0", "42", "0")},
		{name: "withdrawal stage receives amount", in: bal("0", "0", "10"), want: bal("0", "0", "42")},
		{name: "block stage by default", in: bal("0", "0", "0"), want: bal("42", "0", "0")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyProjection(tt.in, dec("42"))
			if !got.Block.Equal(tt.want.Block) || !got.Active.Equal(tt.want.Active) || !got.Withdrawal.Equal(tt.want.Withdrawal) {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}
