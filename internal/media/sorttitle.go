// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var sortArticles = []string{"the ", "a ", "an "}

// SortTitle derives the letter-index sort key for a title: leading articles
// dropped, diacritics folded, lowercased. The resolver calls this for every
// new item; editors may override and lock the field.
func SortTitle(title string) string {
	t := strings.TrimSpace(title)
	if t == "" {
		return ""
	}

	lower := strings.ToLower(t)
	for _, article := range sortArticles {
		if strings.HasPrefix(lower, article) {
			t = t[len(article):]
			break
		}
	}

	// NFD split + mark removal folds "Amélie" to "amelie".
	decomposed := norm.NFD.String(t)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.TrimSpace(b.String())
}

// LetterIndex returns the single-character bucket a sort title files under:
// 'a'..'z' or '#' for digits and anything else.
func LetterIndex(sortTitle string) string {
	if sortTitle == "" {
		return "#"
	}
	r := rune(sortTitle[0])
	if r >= 'a' && r <= 'z' {
		return string(r)
	}
	return "#"
}
