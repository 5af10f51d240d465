package wire

import "strings"

func trimOWS(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t') {
		j--
	}
	return s[i:j]
}

func containsToken(headerValue, token string) bool {
	for _, part := range strings.Split(headerValue, ",") {
		if strings.EqualFold(trimOWS(part), token) {
			return true
		}
	}
	return false
}

// numLeadingCRorLF counts leading CR/LF bytes, the incremental analog of
// the teacher's conn.go RFC 2616 §4.1 tolerance (badu-http's numLeadingCRorLF
// usage before reading a pipelined request following a POST).
func numLeadingCRorLF(b []byte) int {
	n := 0
	for n < len(b) && (b[n] == '\r' || b[n] == '\n') {
		n++
	}
	return n
}

// scanRequestLine parses "METHOD SP request-uri SP HTTP/major.minor CRLF".
// ok=false means data doesn't yet contain a full line.
func scanRequestLine(data []byte) (consumed int, rl RequestLine, ok bool, err error) {
	idx := findCRLF(data)
	if idx < 0 {
		if len(data) > MaxLineLength {
			return 0, rl, false, ErrLineTooLong
		}
		return 0, rl, false, nil
	}
	if idx > MaxLineLength {
		return 0, rl, false, ErrLineTooLong
	}
	line := data[:idx]
	sp1 := indexByte(line, ' ')
	if sp1 < 0 {
		return 0, rl, false, ErrMalformedRequest
	}
	rest := line[sp1+1:]
	sp2 := lastIndexByte(rest, ' ')
	if sp2 < 0 {
		return 0, rl, false, ErrMalformedRequest
	}
	method := string(line[:sp1])
	uri := string(rest[:sp2])
	proto := rest[sp2+1:]
	major, minor, pok := parseHTTPVersion(proto)
	if !pok || method == "" || uri == "" {
		return 0, rl, false, ErrMalformedRequest
	}
	rl = RequestLine{Method: method, RequestURI: uri, Major: major, Minor: minor}
	return idx + 2, rl, true, nil
}

func parseHTTPVersion(b []byte) (major, minor int, ok bool) {
	const prefix = "HTTP/"
	if len(b) < len(prefix)+3 || string(b[:len(prefix)]) != prefix {
		return 0, 0, false
	}
	b = b[len(prefix):]
	dot := indexByte(b, '.')
	if dot < 0 {
		return 0, 0, false
	}
	maj, err1 := parseSmallUint(b[:dot])
	min, err2 := parseSmallUint(b[dot+1:])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return maj, min, true
}

func parseSmallUint(b []byte) (int, error) {
	if len(b) == 0 || len(b) > 3 {
		return 0, ErrMalformedRequest
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, ErrMalformedRequest
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// scanHeaderLine parses one "Name: value CRLF" line, or recognizes the
// blank CRLF line ending the header/trailer section.
func scanHeaderLine(data []byte) (consumed int, name, value string, isBlank bool, ok bool, err error) {
	idx := findCRLF(data)
	if idx < 0 {
		if len(data) > MaxLineLength {
			return 0, "", "", false, false, ErrLineTooLong
		}
		return 0, "", "", false, false, nil
	}
	if idx > MaxLineLength {
		return 0, "", "", false, false, ErrLineTooLong
	}
	if idx == 0 {
		return 2, "", "", true, true, nil
	}
	line := data[:idx]
	colon := indexByte(line, ':')
	if colon <= 0 {
		return 0, "", "", false, false, ErrMalformedHeader
	}
	name = string(line[:colon])
	value = string(trimLeadingTrailingOWS(line[colon+1:]))
	if !validHeaderName(name) {
		return 0, "", "", false, false, ErrMalformedHeader
	}
	return idx + 2, canonicalHeaderName(name), value, false, true, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func lastIndexByte(b []byte, c byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] == c {
			return i
		}
	}
	return -1
}

func trimLeadingTrailingOWS(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && (b[i] == ' ' || b[i] == '\t') {
		i++
	}
	for j > i && (b[j-1] == ' ' || b[j-1] == '\t') {
		j--
	}
	return b[i:j]
}
