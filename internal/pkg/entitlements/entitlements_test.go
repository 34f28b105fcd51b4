package entitlements

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want Plan
	}{
		{in: "free", want: PlanFree},
		{in: "plus", want: PlanPlus},
		{in: "pro", want: PlanPro},
		{in: "PRO", want: PlanPro},
		{in: " plus ", want: PlanPlus},
		{in: "enterprise", want: PlanFree},
		{in: "", want: PlanFree},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTypeOf(t *testing.T) {
	if TypeOf(PlanFree) != PlanTypeFree {
		t.Fatalf("expected free plan to derive FREE")
	}
	for _, p := range []Plan{PlanPlus, PlanPro} {
		if TypeOf(p) != PlanTypePaid {
			t.Fatalf("expected plan %q to derive PAID", p)
		}
	}
}

func TestLimitsFor(t *testing.T) {
	free := LimitsFor(PlanFree)
	if free.CopiesLimit == nil || *free.CopiesLimit != 20 {
		t.Fatalf("unexpected free copies limit: %v", free.CopiesLimit)
	}
	if free.SlotsTotal != 2 {
		t.Fatalf("unexpected free slots total: %d", free.SlotsTotal)
	}

	pro := LimitsFor(PlanPro)
	if pro.CopiesLimit != nil {
		t.Fatalf("expected pro copies to be unlimited")
	}
	if pro.SlotsTotal <= LimitsFor(PlanPlus).SlotsTotal {
		t.Fatalf("expected pro to carry more slots than plus")
	}
}

func TestIsUpgrade(t *testing.T) {
	if !IsUpgrade(PlanFree, PlanPlus) || !IsUpgrade(PlanPlus, PlanPro) {
		t.Fatalf("expected upward moves to be upgrades")
	}
	if IsUpgrade(PlanPro, PlanPlus) || IsUpgrade(PlanPlus, PlanPlus) {
		t.Fatalf("expected downward/same moves not to be upgrades")
	}
}
