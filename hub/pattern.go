package hub

import (
	"strings"

	"github.com/gobwas/glob"
)

// compilePattern compiles a Redis style glob. Redis negates a class with
// [^...] and has no {a,b} alternation, so those are rewritten into the
// glob package's syntax before compiling.
func compilePattern(expr string) (glob.Glob, error) {
	return glob.Compile(translatePattern(expr))
}

func translatePattern(expr string) string {
	var (
		b       strings.Builder
		inClass bool
	)

	b.Grow(len(expr))

	for i := 0; i < len(expr); i++ {
		c := expr[i]

		switch {
		case c == '\\':
			b.WriteByte('\\')
			if i+1 < len(expr) {
				i++
				b.WriteByte(expr[i])
			} else {
				// A trailing backslash matches itself
				b.WriteByte('\\')
			}

		case inClass:
			if c == ']' {
				inClass = false
			}
			b.WriteByte(c)

		case c == '[':
			inClass = true
			b.WriteByte('[')

			if i+1 < len(expr) && expr[i+1] == '^' {
				i++
				b.WriteByte('!')
			}

		case c == '{' || c == '}' || c == ',':
			b.WriteByte('\\')
			b.WriteByte(c)

		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}
