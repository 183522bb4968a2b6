package internal

import "testing"

func TestNewRecoveryCode(t *testing.T) {
	for _, digits := range []int{6, 8, 10} {
		code, err := NewRecoveryCode(digits)
		if err != nil {
			t.Fatalf("NewRecoveryCode(%d) failed: %v", digits, err)
		}
		if len(code) != digits {
			t.Fatalf("expected %d digits, got %q", digits, code)
		}
		if !IsNumericString(code) {
			t.Fatalf("expected numeric code, got %q", code)
		}
	}
}

func TestNewRecoveryCodeRejectsInvalidLength(t *testing.T) {
	for _, digits := range []int{0, 5, 11, -1} {
		if _, err := NewRecoveryCode(digits); err == nil {
			t.Fatalf("expected error for length %d", digits)
		}
	}
}

func TestNewRecoveryCodeVaries(t *testing.T) {
	const draws = 8

	seen := make(map[string]struct{}, draws)
	for i := 0; i < draws; i++ {
		code, err := NewRecoveryCode(6)
		if err != nil {
			t.Fatalf("NewRecoveryCode failed: %v", err)
		}
		seen[code] = struct{}{}
	}

	// All draws identical would indicate a broken entropy source.
	if len(seen) == 1 {
		t.Fatal("expected varying codes across draws")
	}
}

func TestIsNumericString(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"123456", true},
		{"000000", true},
		{"", true},
		{"12a456", false},
		{"12 456", false},
		{"12345６", false},
		{"-12345", false},
	}

	for _, tc := range cases {
		if got := IsNumericString(tc.in); got != tc.want {
			t.Fatalf("IsNumericString(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
