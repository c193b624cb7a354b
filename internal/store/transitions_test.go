package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"call", "waiting", true},
		{"call", "called", false},
		{"call", "done", false},
		{"recall", "called", true},
		{"recall", "waiting", false},
		{"recall", "done", false},
		{"finish", "waiting", true},
		{"finish", "called", true},
		{"finish", "done", false},
		{"unknown", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}
