package engine

import (
	"testing"

	"github.com/wippyai/jsbridge/native"
)

func TestString_CreateAndCopy(t *testing.T) {
	for _, s := range []string{"", "plain", "héllo😀", "nul\x00inside"} {
		ref := StringCreate(s)
		if ref == 0 {
			t.Fatalf("StringCreate(%q) = NULL", s)
		}
		if got := StringCopy(ref); got != s {
			t.Fatalf("StringCopy = %q, want %q", got, s)
		}
		StringRelease(ref)
	}
}

func TestString_Length(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 3},
		{"héllo😀", 7},
	}
	for _, tt := range tests {
		ref := StringCreate(tt.in)
		if got := StringGetLength(ref); got != tt.want {
			t.Errorf("StringGetLength(%q) = %d, want %d", tt.in, got, tt.want)
		}
		StringRelease(ref)
	}
}

func TestString_RetainRelease(t *testing.T) {
	h, err := native.Default()
	if err != nil {
		t.Fatal(err)
	}
	before := h.Stats().Allocations

	ref := StringCreate("shared")
	StringRetain(ref)
	StringRelease(ref)
	if got := StringCopy(ref); got != "shared" {
		t.Fatalf("string freed early: %q", got)
	}
	StringRelease(ref)
	if got := h.Stats().Allocations; got != before {
		t.Fatalf("allocations = %d, want %d", got, before)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on release of dead string")
		}
	}()
	StringRelease(ref)
}

func TestString_UTF8CString(t *testing.T) {
	h, err := native.Default()
	if err != nil {
		t.Fatal(err)
	}
	ref := StringCreate("héllo")
	defer StringRelease(ref)

	if got := StringGetMaximumUTF8CStringSize(ref); got != 7 {
		t.Fatalf("max size = %d, want 7", got)
	}

	buf, err := h.Allocate(16)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = h.Release(buf) }()

	n := StringGetUTF8CString(ref, buf, 16)
	if n != 7 {
		t.Fatalf("written = %d, want 7", n)
	}
	back := StringCreateWithUTF8CString(buf)
	if got := StringCopy(back); got != "héllo" {
		t.Fatalf("round trip = %q", got)
	}
	StringRelease(back)

	// "hé" needs 3 bytes; a 3-byte buffer holds "h" plus the NUL
	n = StringGetUTF8CString(ref, buf, 3)
	if n != 2 {
		t.Fatalf("truncated written = %d, want 2", n)
	}
	back = StringCreateWithUTF8CString(buf)
	if got := StringCopy(back); got != "h" {
		t.Fatalf("truncated = %q, want h", got)
	}
	StringRelease(back)

	if n := StringGetUTF8CString(ref, buf, 0); n != 0 {
		t.Fatalf("zero size wrote %d bytes", n)
	}
}

func TestString_IsEqual(t *testing.T) {
	a := StringCreate("same")
	b := StringCreate("same")
	c := StringCreate("other")
	defer StringRelease(a)
	defer StringRelease(b)
	defer StringRelease(c)

	if !StringIsEqual(a, b) {
		t.Fatal("equal strings differ")
	}
	if StringIsEqual(a, c) {
		t.Fatal("different strings equal")
	}
}

func TestValueMakeString_RoundTrip(t *testing.T) {
	ctx := newContext(t)

	v := ValueMakeString(ctx, str(t, "héllo😀"))
	if got := toString(ctx, v); got != "héllo😀" {
		t.Fatalf("round trip = %q", got)
	}
	if got := ValueToNumber(ctx, mustEval(t, ctx, "'héllo😀'.length"), nil); got != 7 {
		t.Fatalf("length = %v, want 7", got)
	}
}
