package results

import "testing"

func TestParseScore(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"5", 5},
		{"3,5", 3.5},
		{" 8.5 ", 8.5},
		{" 12,25 ", 12.25},
		{"1 000", 1000},
		{"-2", -2},
		{".5", 0.5},
		{"7.5*", 7.5},
		{"", 0},
		{"—", 0},
		{"abc", 0},
		{"NaN", 0},
	}
	for _, tc := range tests {
		if got := ParseScore(tc.in); got != tc.want {
			t.Errorf("ParseScore(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParsePlace(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"1", 1},
		{" 12 ", 12},
		{"3.", 3},
		{"3-4", 3},
		{"", 0},
		{"—", 0},
		{"first", 0},
	}
	for _, tc := range tests {
		if got := ParsePlace(tc.in); got != tc.want {
			t.Errorf("ParsePlace(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
