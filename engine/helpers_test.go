package engine

import (
	"testing"

	"github.com/wippyai/jsbridge/native"
	"github.com/wippyai/jsbridge/registry"
)

func newContext(t *testing.T) ContextRef {
	t.Helper()
	ctx := GlobalContextCreate(0)
	t.Cleanup(func() {
		for live(ctx) {
			GlobalContextRelease(ctx)
		}
	})
	return ctx
}

func live(ctx ContextRef) bool {
	_, ok := contexts.Lookup(registry.ID(ctx))
	return ok
}

func str(t *testing.T, s string) StringRef {
	t.Helper()
	r := StringCreate(s)
	if r == 0 {
		t.Fatalf("StringCreate(%q) returned NULL", s)
	}
	t.Cleanup(func() { StringRelease(r) })
	return r
}

func eval(t *testing.T, ctx ContextRef, src string) (ValueRef, ValueRef) {
	t.Helper()
	var exc ValueRef
	v := EvaluateScript(ctx, str(t, src), 0, 1, &exc)
	return v, exc
}

func mustEval(t *testing.T, ctx ContextRef, src string) ValueRef {
	t.Helper()
	v, exc := eval(t, ctx, src)
	if exc != 0 {
		t.Fatalf("evaluate %q threw %s", src, toString(ctx, exc))
	}
	return v
}

func toString(ctx ContextRef, v ValueRef) string {
	s := ValueToStringCopy(ctx, v, nil)
	defer StringRelease(s)
	return StringCopy(s)
}

func makeArgv(t *testing.T, refs ...ValueRef) native.Pointer {
	t.Helper()
	if len(refs) == 0 {
		return native.Null
	}
	h, err := native.Default()
	if err != nil {
		t.Fatal(err)
	}
	p, err := h.Allocate(uint32(len(refs) * native.PointerWidth))
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range refs {
		if err := h.WriteU64(uint32(p)+uint32(i*native.PointerWidth), uint64(r)); err != nil {
			t.Fatal(err)
		}
	}
	t.Cleanup(func() { _ = h.Release(p) })
	return p
}

func readArgv(argc int, argv native.Pointer) []ValueRef {
	h, _ := native.Default()
	out := make([]ValueRef, argc)
	for i := range out {
		v, _ := h.ReadU64(uint32(argv) + uint32(i*native.PointerWidth))
		out[i] = ValueRef(v)
	}
	return out
}
