package terminal

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "func main() {", "func main() {"},
		{"color", "\x1b[31mred\x1b[0m text", "red text"},
		{"title", "\x1b]0;evil title\x07ok", "ok"},
		{"carriage return", "line\r\n", "line\n"},
		{"backspace", "abx\bc", "abc"},
		{"tab kept", "a\tb", "a\tb"},
		{"bell and delete", "a\x07b\x7fc", "abc"},
		{"charset", "\x1b(Bbox", "box"},
		{"utf8", "größe €", "größe €"},
		{"backspace after multibyte", "grö\bx", "grx"},
		{"backspace euro", "5€\b\b", ""},
		{"backspace at start", "\bok", "ok"},
	}
	for _, tc := range tests {
		if got := Sanitize(tc.in); got != tc.want {
			t.Errorf("%s: Sanitize(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}
}
