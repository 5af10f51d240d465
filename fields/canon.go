package fields

// isTokenTable is copied from the RFC 7230 token grammar, same table the
// teacher's hdr package carries for field-name validation.
var isTokenTable = [127]bool{
	'0': true, '1': true, '2': true, '3': true, '4': true, '5': true, '6': true, '7': true,
	'8': true, '9': true,

	'a': true, 'b': true, 'c': true, 'd': true, 'e': true, 'f': true, 'g': true, 'h': true,
	'i': true, 'j': true, 'k': true, 'l': true, 'm': true, 'n': true, 'o': true, 'p': true,
	'q': true, 'r': true, 's': true, 't': true, 'u': true, 'v': true, 'w': true, 'x': true,
	'y': true, 'z': true,

	'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true, 'G': true, 'H': true,
	'I': true, 'J': true, 'K': true, 'L': true, 'M': true, 'N': true, 'O': true, 'P': true,
	'Q': true, 'R': true, 'S': true, 'T': true, 'U': true, 'V': true, 'W': true, 'X': true,
	'Y': true, 'Z': true,

	'!': true, '#': true, '$': true, '%': true, '&': true, '\'': true, '*': true, '+': true,
	'-': true, '.': true, '^': true, '_': true, '`': true, '|': true, '~': true,
}

func validFieldNameByte(b byte) bool {
	return int(b) < len(isTokenTable) && isTokenTable[b]
}

// CanonicalName canonicalizes a field name the way net/http-family servers
// do: first letter and any letter following a hyphen upper-cased, the rest
// lower-cased. Non-token input is returned unchanged.
func CanonicalName(s string) string {
	upper := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !validFieldNameByte(c) {
			return s
		}
		if upper && 'a' <= c && c <= 'z' {
			return canonicalize([]byte(s))
		}
		if !upper && 'A' <= c && c <= 'Z' {
			return canonicalize([]byte(s))
		}
		upper = c == '-'
	}
	return s
}

func canonicalize(a []byte) string {
	upper := true
	for i, c := range a {
		if upper && 'a' <= c && c <= 'z' {
			c -= toLower
		} else if !upper && 'A' <= c && c <= 'Z' {
			c += toLower
		}
		a[i] = c
		upper = c == '-'
	}
	return string(a)
}

func isCTL(b byte) bool {
	const del = 0x7f
	return b < ' ' || b == del
}

func isLWS(b byte) bool { return b == ' ' || b == '\t' }

// ValidName reports whether v is a syntactically valid HTTP field name.
func ValidName(v string) bool {
	if len(v) == 0 {
		return false
	}
	for i := 0; i < len(v); i++ {
		if !validFieldNameByte(v[i]) {
			return false
		}
	}
	return true
}

// ValidValue reports whether v is a syntactically valid HTTP field value
// (no control bytes other than horizontal whitespace).
func ValidValue(v string) bool {
	for i := 0; i < len(v); i++ {
		b := v[i]
		if isCTL(b) && !isLWS(b) {
			return false
		}
	}
	return true
}

// TrimOWS trims leading/trailing optional whitespace (space, tab).
func TrimOWS(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t') {
		j--
	}
	return s[i:j]
}
