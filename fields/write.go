package fields

import "io"

// Write serializes f in arrival order, "Name: value\r\n" per field,
// WITHOUT sorting — this is what makes the round-trip invariant
// (non-Host/Connection field order survives a parse/regenerate cycle)
// hold, unlike a map-backed header that must sort to be deterministic.
func (f *Fields) Write(w io.Writer) error {
	for _, fld := range f.list {
		if _, err := io.WriteString(w, fld.Name); err != nil {
			return err
		}
		if _, err := io.WriteString(w, ": "); err != nil {
			return err
		}
		if _, err := io.WriteString(w, sanitizeValue(fld.Value)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
	}
	return nil
}

// WriteExcluding writes every field whose name is not in exclude.
func (f *Fields) WriteExcluding(w io.Writer, exclude map[string]bool) error {
	for _, fld := range f.list {
		if exclude[fld.Name] {
			continue
		}
		if _, err := io.WriteString(w, fld.Name); err != nil {
			return err
		}
		if _, err := io.WriteString(w, ": "); err != nil {
			return err
		}
		if _, err := io.WriteString(w, sanitizeValue(fld.Value)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
	}
	return nil
}

func sanitizeValue(v string) string {
	needsSanitizing := false
	for i := 0; i < len(v); i++ {
		if v[i] == '\n' || v[i] == '\r' {
			needsSanitizing = true
			break
		}
	}
	if !needsSanitizing {
		return TrimOWS(v)
	}
	b := []byte(v)
	for i, c := range b {
		if c == '\n' || c == '\r' {
			b[i] = ' '
		}
	}
	return TrimOWS(string(b))
}
