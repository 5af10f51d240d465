package wire

// findCRLF scans b for the first "\r\n", returning the index of '\r' or -1
// if not present yet (meaning: need more bytes before this line can be
// parsed — the incremental analog of the teacher's readChunkLine blocking
// on bufio.Reader.ReadSlice('\n')).
func findCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func trimTrailingWhitespace(b []byte) []byte {
	for len(b) > 0 && isASCIISpace(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return b
}

// removeChunkExtension strips a ";token[=value]" chunk-extension the way
// the teacher's removeChunkExtension does — extensions are accepted and
// discarded, never interpreted.
func removeChunkExtension(p []byte) []byte {
	for i, c := range p {
		if c == ';' {
			return p[:i]
		}
	}
	return p
}

// parseHexUint parses a hex chunk-size field, grounded byte-for-byte on
// the teacher's utils_chunks.go parseHexUint.
func parseHexUint(v []byte) (uint64, error) {
	if len(v) == 0 {
		return 0, ErrMalformedChunk
	}
	var n uint64
	for i, b := range v {
		var digit byte
		switch {
		case '0' <= b && b <= '9':
			digit = b - '0'
		case 'a' <= b && b <= 'f':
			digit = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			digit = b - 'A' + 10
		default:
			return 0, ErrMalformedChunk
		}
		if i == 16 {
			return 0, ErrChunkTooLarge
		}
		n <<= 4
		n |= uint64(digit)
	}
	return n, nil
}

// scanChunkSizeLine attempts to parse a chunk-size line out of b[0:].
// Returns the decoded size, the number of bytes consumed (including the
// trailing CRLF), and ok=false if b doesn't yet contain a full line.
func scanChunkSizeLine(b []byte) (size uint64, consumed int, ok bool, err error) {
	idx := findCRLF(b)
	if idx < 0 {
		if len(b) > MaxLineLength {
			return 0, 0, false, ErrLineTooLong
		}
		return 0, 0, false, nil
	}
	if idx > MaxLineLength {
		return 0, 0, false, ErrLineTooLong
	}
	line := trimTrailingWhitespace(b[:idx])
	line = removeChunkExtension(line)
	size, err = parseHexUint(line)
	if err != nil {
		return 0, 0, false, err
	}
	return size, idx + 2, true, nil
}
