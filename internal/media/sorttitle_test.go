// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import "testing"

func TestSortTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The Matrix", "matrix"},
		{"A Beautiful Mind", "beautiful mind"},
		{"An American Tail", "american tail"},
		{"Amélie", "amelie"},
		{"  Heat  ", "heat"},
		{"2001: A Space Odyssey", "2001: a space odyssey"},
		{"Theory of Everything", "theory of everything"}, // "the " prefix must not eat "theory"
		{"", ""},
	}
	for _, tt := range tests {
		if got := SortTitle(tt.in); got != tt.want {
			t.Errorf("SortTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLetterIndex(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"matrix", "m"},
		{"2001: a space odyssey", "#"},
		{"", "#"},
	}
	for _, tt := range tests {
		if got := LetterIndex(tt.in); got != tt.want {
			t.Errorf("LetterIndex(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
