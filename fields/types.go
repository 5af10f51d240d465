// Package fields implements an order-preserving HTTP field list.
//
// Unlike a map-keyed header, Fields keeps insertion order so that a parsed
// request's non-Host/Connection fields regenerate in the order they arrived
// (see the round-trip invariant in SPEC_FULL.md's §8).
package fields

const toLower = 'a' - 'A'

// Well-known field names, canonical form.
const (
	Connection       = "Connection"
	ContentLength    = "Content-Length"
	ContentType      = "Content-Type"
	Date             = "Date"
	Expect           = "Expect"
	Host             = "Host"
	Server           = "Server"
	Trailer          = "Trailer"
	TransferEncoding = "Transfer-Encoding"
	Upgrade          = "Upgrade"
)

// TrailerPrefix is the net/http ResponseWriter.Header() key prefix that
// marks a map entry as a response trailer. Fields has no such convention:
// nothing in this module reads it.
const TrailerPrefix = "Trailer:"

// Field is a single name/value pair as it appeared on the wire.
type Field struct {
	Name  string
	Value string
}

// Fields is an ordered list of header or trailer fields. The zero value is
// an empty list ready to use.
type Fields struct {
	list []Field
}

// Len returns the number of fields.
func (f *Fields) Len() int { return len(f.list) }

// Add appends name/value, canonicalizing name, preserving any existing
// occurrences (multi-valued fields keep every occurrence in order).
func (f *Fields) Add(name, value string) {
	f.list = append(f.list, Field{Name: CanonicalName(name), Value: value})
}

// Set replaces all occurrences of name with a single occurrence.
func (f *Fields) Set(name, value string) {
	name = CanonicalName(name)
	out := f.list[:0]
	replaced := false
	for _, fld := range f.list {
		if fld.Name == name {
			if !replaced {
				out = append(out, Field{Name: name, Value: value})
				replaced = true
			}
			continue
		}
		out = append(out, fld)
	}
	if !replaced {
		out = append(out, Field{Name: name, Value: value})
	}
	f.list = out
}

// Get returns the first value for name, or "" if absent.
func (f *Fields) Get(name string) string {
	name = CanonicalName(name)
	for _, fld := range f.list {
		if fld.Name == name {
			return fld.Value
		}
	}
	return ""
}

// Values returns every value for name, in arrival order.
func (f *Fields) Values(name string) []string {
	name = CanonicalName(name)
	var out []string
	for _, fld := range f.list {
		if fld.Name == name {
			out = append(out, fld.Value)
		}
	}
	return out
}

// Del removes every occurrence of name.
func (f *Fields) Del(name string) {
	name = CanonicalName(name)
	out := f.list[:0]
	for _, fld := range f.list {
		if fld.Name != name {
			out = append(out, fld)
		}
	}
	f.list = out
}

// Has reports whether name has at least one occurrence.
func (f *Fields) Has(name string) bool {
	name = CanonicalName(name)
	for _, fld := range f.list {
		if fld.Name == name {
			return true
		}
	}
	return false
}

// Each calls fn for every field in arrival order.
func (f *Fields) Each(fn func(name, value string)) {
	for _, fld := range f.list {
		fn(fld.Name, fld.Value)
	}
}

// Clone returns an independent deep copy.
func (f *Fields) Clone() *Fields {
	c := &Fields{list: make([]Field, len(f.list))}
	copy(c.list, f.list)
	return c
}

// Reset empties the list for reuse, keeping its backing array.
func (f *Fields) Reset() {
	f.list = f.list[:0]
}
