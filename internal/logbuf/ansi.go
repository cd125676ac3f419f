package logbuf

import "regexp"

// sgrPattern matches Select Graphic Rendition sequences: ESC '[' followed
// by digits/semicolons and a terminating 'm'. Other control sequences and
// truncated escapes are left untouched.
var sgrPattern = regexp.MustCompile("\x1b\\[[0-9;]*m")

// StripSGR removes terminal color codes from s.
func StripSGR(s string) string {
	return sgrPattern.ReplaceAllString(s, "")
}
