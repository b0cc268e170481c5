package utils

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"06 12 34 56 78", "+33612345678"},
		{"0612345678", "+33612345678"},
		{"06-12-34-56-78", "+33612345678"},
		{"+33 6 12 34 56 78", "+33612345678"},
		{"0033612345678", "+33612345678"},
		{"(06) 12.34.56.78", "+33612345678"},
		{"+14155552671", "+14155552671"},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if err != nil {
			t.Errorf("NormalizePhone(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePhoneInvalid(t *testing.T) {
	for _, in := range []string{"call me", "12345", "06 12 34 56 78 90 12 34", "06+12345678"} {
		if got, err := NormalizePhone(in); err == nil {
			t.Errorf("NormalizePhone(%q) = %q, want error", in, got)
		}
	}
}
