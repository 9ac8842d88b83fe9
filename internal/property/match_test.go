package property

import "testing"

func TestMatchPlace(t *testing.T) {
	t.Parallel()

	known := []string{"Lisbon", "Alfama", "Porto", "Foz do Douro", "Sintra", "Cascais"}
	tests := []struct {
		spoken string
		want   string
		ok     bool
	}{
		{"Lisbon", "Lisbon", true},
		{"  porto ", "Porto", true},
		{"foz  do douro", "Foz do Douro", true},
		{"lisboa", "Lisbon", true},
		{"cintra", "Sintra", true},
		{"Madrid", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.spoken, func(t *testing.T) {
			t.Parallel()
			got, ok := MatchPlace(tc.spoken, known)
			if got != tc.want || ok != tc.ok {
				t.Errorf("MatchPlace(%q) = %q, %v; want %q, %v", tc.spoken, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestMatchPlace_NoKnownPlaces(t *testing.T) {
	t.Parallel()
	if _, ok := MatchPlace("Lisbon", nil); ok {
		t.Error("expected no match against an empty list")
	}
}
