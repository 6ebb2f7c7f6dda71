package ingest

import (
	"strings"
	"unicode"
)

// ArticleSortKey extracts the leading rack number (1-99) from a seller
// article such as "р20-п5-33" or "мд33-п2-30" so batch lists come out in
// physical picking order. Articles without a recognizable number sort last.
func ArticleSortKey(article string) int {

	const last = 999

	runes := []rune(strings.TrimSpace(article))
	if len(runes) == 0 {
		return last
	}

	// the number follows a one- or two-letter prefix, try the longer
	// prefix first
	if len(runes) >= 2 && !unicode.IsDigit(runes[0]) && !unicode.IsDigit(runes[1]) {
		if n, ok := leadingNumber(runes[2:]); ok {
			return n
		}
	}
	if !unicode.IsDigit(runes[0]) {
		if n, ok := leadingNumber(runes[1:]); ok {
			return n
		}
		return last
	}
	if n, ok := leadingNumber(runes); ok {
		return n
	}
	return last
}

// leadingNumber reads the digits at the head of the runes. Numbers with a
// leading zero or outside 1-99 do not qualify.
func leadingNumber(runes []rune) (int, bool) {
	if len(runes) == 0 || !unicode.IsDigit(runes[0]) || runes[0] == '0' {
		return 0, false
	}
	n := 0
	for _, r := range runes {
		if !unicode.IsDigit(r) {
			break
		}
		n = n*10 + int(r-'0')
		if n > 99 {
			return 0, false
		}
	}
	return n, true
}
