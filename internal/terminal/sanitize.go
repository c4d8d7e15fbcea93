package terminal

import (
	"regexp"
	"unicode/utf8"
)

// escapeSeq matches CSI, string-terminated (OSC, DCS, PM, APC, title),
// charset, keypad and two-byte escape sequences.
var escapeSeq = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]` +
	`|\x1b\].*?(?:\x07|\x1b\\)` +
	`|\x1b[P^_k].*?\x1b\\` +
	`|\x1b[()][0-9A-Za-z]` +
	`|\x1b.`)

// Sanitize makes server supplied text safe to print on a local terminal.
// Escape sequences and control bytes other than newline and tab are
// dropped, and a backspace removes the character before it.
func Sanitize(s string) string {
	s = escapeSeq.ReplaceAllString(s, "")
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\b':
			_, size := utf8.DecodeLastRune(out)
			out = out[:len(out)-size]
		case ch == '\n' || ch == '\t':
			out = append(out, ch)
		case ch < 0x20 || ch == 0x7f:
		default:
			out = append(out, ch)
		}
	}
	return string(out)
}
