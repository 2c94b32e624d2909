package queue

import "testing"

func TestValidEntryTransition(t *testing.T) {
	cases := []struct {
		to    string
		from  string
		valid bool
	}{
		{"in_consult", "waiting", true},
		{"in_consult", "in_consult", false},
		{"completed", "in_consult", true},
		{"completed", "waiting", false},
		{"no_show", "waiting", true},
		{"no_show", "in_consult", true},
		{"no_show", "completed", false},
		{"cancelled", "waiting", true},
		{"cancelled", "in_consult", false},
		{"waiting", "cancelled", false},
		{"unknown", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidEntryTransition(tt.to, tt.from); got != tt.valid {
			t.Fatalf("ValidEntryTransition(%q, %q)=%v, want %v", tt.to, tt.from, got, tt.valid)
		}
	}
}

func TestValidDoctorTransition(t *testing.T) {
	cases := []struct {
		to    string
		from  string
		valid bool
	}{
		{"on_break", "in_clinic", true},
		{"on_break", "in_consult", false},
		{"on_break", "on_break", false},
		{"in_clinic", "on_break", true},
		{"in_clinic", "unavailable", true},
		{"unavailable", "in_clinic", true},
		{"unavailable", "in_consult", true},
		{"unavailable", "on_break", true},
		{"in_consult", "in_clinic", false},
		{"unknown", "in_clinic", false},
	}

	for _, tt := range cases {
		if got := ValidDoctorTransition(tt.to, tt.from); got != tt.valid {
			t.Fatalf("ValidDoctorTransition(%q, %q)=%v, want %v", tt.to, tt.from, got, tt.valid)
		}
	}
}
