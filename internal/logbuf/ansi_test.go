package logbuf

import (
	"strings"
	"testing"
)

func TestStripSGR(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "no escapes here", "no escapes here"},
		{"single", "\x1b[31mred\x1b[0m", "red"},
		{"many", "\x1b[1;32mbold green\x1b[0m and \x1b[33myellow\x1b[39m", "bold green and yellow"},
		{"params only", "\x1b[38;5;196mx\x1b[m", "x"},
		{"empty", "", ""},
		{"truncated escape kept", "tail\x1b[31", "tail\x1b[31"},
		{"bare escape kept", "a\x1bb", "a\x1bb"},
		{"non sgr csi kept", "\x1b[2Jcleared", "\x1b[2Jcleared"},
		{"letters in params not matched", "\x1b[3a1m", "\x1b[3a1m"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripSGR(tc.in); got != tc.want {
				t.Fatalf("StripSGR(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

// FuzzStripSGR checks the sanitizer never panics and never reintroduces
// SGR sequences into its own output.
func FuzzStripSGR(f *testing.F) {
	f.Add("plain text")
	f.Add("\x1b[31mred\x1b[0m")
	f.Add("\x1b[")
	f.Add("\x1b[;;;m")
	f.Add(strings.Repeat("\x1b[1m", 50))

	f.Fuzz(func(t *testing.T, s string) {
		if len(s) > 4096 {
			t.Skip("input too long")
		}
		out := StripSGR(s)
		if sgrPattern.MatchString(out) {
			t.Fatalf("output still contains SGR sequence: %q", out)
		}
		// Idempotent: a second pass must change nothing.
		if again := StripSGR(out); again != out {
			t.Fatalf("not idempotent: %q -> %q", out, again)
		}
	})
}
