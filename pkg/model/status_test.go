package model

import "testing"

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusAvail, StatusPending, true},
		{StatusAvail, StatusDone, false},
		{StatusAvail, StatusStale, false},
		{StatusPending, StatusDone, true},
		{StatusPending, StatusAvail, true},
		{StatusPending, StatusStale, false},
		{StatusDone, StatusStale, true},
		{StatusDone, StatusPending, false},
		{StatusDone, StatusAvail, false},
		{StatusStale, StatusPending, true},
		{StatusStale, StatusDone, true},
		{StatusStale, StatusAvail, false},
		{StatusAvail, StatusAvail, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestValidateTransitionRejectsUnknownStatus(t *testing.T) {
	if err := ValidateTransition(Status("bogus"), StatusPending); err == nil {
		t.Error("expected error for unknown source status")
	}
	if err := ValidateTransition(StatusAvail, Status("bogus")); err == nil {
		t.Error("expected error for unknown target status")
	}
	if err := ValidateTransition(StatusAvail, StatusPending); err != nil {
		t.Errorf("legal transition rejected: %v", err)
	}
}

func TestNeedsCompute(t *testing.T) {
	needs := map[Status]bool{
		StatusAvail:   true,
		StatusStale:   true,
		StatusPending: false,
		StatusDone:    false,
	}
	for st, want := range needs {
		if got := st.NeedsCompute(); got != want {
			t.Errorf("%s.NeedsCompute() = %v, want %v", st, got, want)
		}
	}
}

func TestClusteringKindsExcludeCDD(t *testing.T) {
	for _, k := range ClusteringKinds {
		if k == CompCDD {
			t.Error("cdd must not gate clustering")
		}
	}
}
