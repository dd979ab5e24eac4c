package matching

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"punctuation only", "!!! ???", ""},
		{"two tokens sorted", "John Smith", "john smith"},
		{"two tokens reversed sort same", "Smith John", "john smith"},
		{"apostrophe and hyphen with noise suffix", "O'Brien-Smith Racing Team", "obrien smith racing"},
		{"noise suffixes stripped repeatedly", "Dirt Burners RC Club", "burners dirt"},
		{"only noise tokens", "RC Team", ""},
		{"ampersand expands", "Smith & Jones", "and jones smith"},
		{"underscore splits", "mike_oneal", "mike oneal"},
		{"single token", "Hendrick", "hendrick"},
		{"hyphenated multiword keeps order", "Red-Line Racing Crew", "red line racing crew"},
		{"digits kept", "Driver 42", "42 driver"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.input); got != tc.expected {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"John Smith",
		"O'Brien-Smith",
		"Dirt Burners RC Club",
		"Smith & Jones",
		"Hendrick",
		"  spaced   out   name  ",
		"D'Angelo   Russell-West",
	}

	for _, input := range inputs {
		once := Normalize(input)
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q != %q", input, twice, once)
		}
	}
}

func TestNormalizeHyphenOrderSensitivity(t *testing.T) {
	// A hyphenated name with more than two tokens keeps its word order, so
	// reorderings stay distinct.
	a := Normalize("Blue-Sky Racing Outfit")
	b := Normalize("Racing Outfit Blue-Sky")
	if a == b {
		t.Fatalf("expected order-sensitive keys, got %q for both", a)
	}
}
