package fields

import (
	"strings"
	"testing"
)

func TestAddPreservesOrder(t *testing.T) {
	var f Fields
	f.Add("X-Two", "2")
	f.Add("x-one", "1")
	f.Add("X-Two", "2b")

	var got []string
	f.Each(func(name, value string) { got = append(got, name+"="+value) })

	want := []string{"X-Two=2", "X-One=1", "X-Two=2b"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestSetReplacesAllKeepingFirstPosition(t *testing.T) {
	var f Fields
	f.Add("A", "1")
	f.Add("B", "x")
	f.Add("A", "2")
	f.Set("A", "final")

	if got := f.Values("A"); len(got) != 1 || got[0] != "final" {
		t.Fatalf("Values(A) = %v", got)
	}
	if f.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", f.Len())
	}
	var order []string
	f.Each(func(name, value string) { order = append(order, name+"="+value) })
	if len(order) != 2 || order[0] != "A=final" || order[1] != "B=x" {
		t.Fatalf("order = %v, want [A=final B=x]", order)
	}
}

func TestWritePreservesOrder(t *testing.T) {
	var f Fields
	f.Add("Content-Type", "text/plain")
	f.Add("X-Request-Id", "abc")

	var sb strings.Builder
	if err := f.Write(&sb); err != nil {
		t.Fatal(err)
	}
	want := "Content-Type: text/plain\r\nX-Request-Id: abc\r\n"
	if sb.String() != want {
		t.Fatalf("got %q want %q", sb.String(), want)
	}
}

func TestCanonicalName(t *testing.T) {
	cases := map[string]string{
		"content-length": "Content-Length",
		"HOST":           "Host",
		"x-my-header":    "X-My-Header",
	}
	for in, want := range cases {
		if got := CanonicalName(in); got != want {
			t.Errorf("CanonicalName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidNameValue(t *testing.T) {
	if !ValidName("X-Foo") {
		t.Error("X-Foo should be valid")
	}
	if ValidName("") {
		t.Error("empty name should be invalid")
	}
	if ValidName("X Foo") {
		t.Error("space in name should be invalid")
	}
	if !ValidValue("normal value") {
		t.Error("normal value should be valid")
	}
	if ValidValue("bad\x00value") {
		t.Error("control byte should be invalid")
	}
}
