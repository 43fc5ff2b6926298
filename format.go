package rulecache

import (
	"fmt"
	"strconv"
	"strings"
)

// Format fills a key template. "{}" takes the next positional argument,
// "{N}" the N-th, "{name}" the keyword argument; "{{" and "}}" are literal
// braces. Missing arguments are an ErrConfiguration error since templates
// are fixed at startup.
func Format(tpl string, args []any, kw map[string]any) (string, error) {
	var b strings.Builder
	b.Grow(len(tpl) + 16)
	next := 0
	for i := 0; i < len(tpl); i++ {
		c := tpl[i]
		switch {
		case c == '{' && i+1 < len(tpl) && tpl[i+1] == '{':
			b.WriteByte('{')
			i++
		case c == '}' && i+1 < len(tpl) && tpl[i+1] == '}':
			b.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(tpl[i:], '}')
			if end < 0 {
				return "", Configf("key template %q: unclosed '{'", tpl)
			}
			name := tpl[i+1 : i+end]
			i += end

			var v any
			switch {
			case name == "":
				if next >= len(args) {
					return "", Configf("key template %q: missing positional argument %d", tpl, next)
				}
				v = args[next]
				next++
			case isDigits(name):
				n, _ := strconv.Atoi(name)
				if n >= len(args) {
					return "", Configf("key template %q: missing positional argument %d", tpl, n)
				}
				v = args[n]
			default:
				var ok bool
				if v, ok = kw[name]; !ok {
					return "", Configf("key template %q: missing keyword argument %q", tpl, name)
				}
			}
			b.WriteString(fmt.Sprint(v))
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
