package harness

import "strings"

const xpathPrefix = "xpath="

// XPath reports whether selector is an XPath selector and returns the
// expression without its prefix.
func XPath(selector string) (string, bool) {
	return strings.CutPrefix(selector, xpathPrefix)
}

const (
	upperASCII = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerASCII = "abcdefghijklmnopqrstuvwxyz"
)

// LinkNamed returns a selector for the first anchor whose text or aria-label
// contains name, ignoring ASCII case and runs of whitespace.
func LinkNamed(name string) string {
	lit := xpathLiteral(lowerASCIIOnly(strings.Join(strings.Fields(name), " ")))
	fold := func(expr string) string {
		return "contains(translate(normalize-space(" + expr + "), '" + upperASCII + "', '" + lowerASCII + "'), " + lit + ")"
	}
	return xpathPrefix + "//a[" + fold(".") + " or " + fold("@aria-label") + "]"
}

// lowerASCIIOnly lowers the letters translate() folds and nothing else.
func lowerASCIIOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + 'a' - 'A'
		}
		return r
	}, s)
}

// xpathLiteral quotes s as an XPath 1.0 string literal, which has no escapes.
func xpathLiteral(s string) string {
	switch {
	case !strings.Contains(s, "'"):
		return "'" + s + "'"
	case !strings.Contains(s, `"`):
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	for i, p := range parts {
		parts[i] = "'" + p + "'"
	}
	return "concat(" + strings.Join(parts, `, "'", `) + ")"
}
