package cliutil

import "strings"

// wrap greedily fills lines up to width w-5 (to leave slop so a short trailing word doesn't sit
// alone on a line), indenting every line after the first by i spaces. w == 0 disables wrapping.
func wrap(i, w int, s string) string {
	if w <= 0 {
		return s
	}
	width := w - 5
	if width < 1 {
		width = 1
	}
	indent := strings.Repeat(" ", i)

	var out strings.Builder
	for pno, para := range strings.Split(s, "\n") {
		if pno > 0 {
			out.WriteString("\n")
		}
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		lineLen := 0
		for wno, word := range words {
			switch {
			case wno == 0:
				out.WriteString(word)
				lineLen = len(word)
			case lineLen+1+len(word) > width:
				out.WriteString("\n")
				out.WriteString(indent)
				out.WriteString(word)
				lineLen = len(word)
			default:
				out.WriteString(" ")
				out.WriteString(word)
				lineLen += 1 + len(word)
			}
		}
	}
	return out.String()
}

// Wrap the string `s` to a maximum width `w`.  Pass `w` == 0 to do no wrapping.
//
// In order to have some room for slop to avoid things like a short word being on a line by itself,
// most lines are actually wrapped to `w - 5`.
func Wrap(w int, s string) string {
	return wrap(0, w, s)
}

// Wrap the string `s` to a maximum width `w` with leading indent `i`.  The first line is not
// indented (this is assumed to be done by caller).  Pass `w` == 0 to do no wrapping
//
// In order to have some room for slop to avoid things like a short word being on a line by itself,
// most lines are actually wrapped to `w - 5`.
func WrapIndent(i, w int, s string) string {
	return wrap(i, w, s)
}
