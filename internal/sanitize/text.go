package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Text replaces invalid UTF-8 with U+FFFD and drops control characters
// other than tab, newline and carriage return. Everything else, including
// leading and trailing whitespace, is preserved.
func Text(s string) string {
	if utf8.ValidString(s) && strings.IndexFunc(s, dropped) < 0 {
		return s
	}
	s = strings.ToValidUTF8(s, string(utf8.RuneError))
	return strings.Map(func(r rune) rune {
		if dropped(r) {
			return -1
		}
		return r
	}, s)
}

func dropped(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	}
	return unicode.IsControl(r)
}

// Title cleans s like Text, folds every whitespace run into one space and
// trims the ends.
func Title(s string) string {
	return strings.Join(strings.Fields(Text(s)), " ")
}
