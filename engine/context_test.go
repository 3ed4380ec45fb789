package engine

import (
	"math"
	"strings"
	"testing"
)

func TestEvaluateScript_Number(t *testing.T) {
	ctx := newContext(t)

	v := mustEval(t, ctx, "1 + 2.3")
	if got := ValueGetType(ctx, v); got != TypeNumber {
		t.Fatalf("type = %s, want number", got)
	}
	if got := ValueToNumber(ctx, v, nil); math.Abs(got-3.3) > 1e-9 {
		t.Fatalf("number = %v, want 3.3", got)
	}
	if got := toString(ctx, v); got != "3.3" {
		t.Fatalf("string = %q, want %q", got, "3.3")
	}
}

func TestEvaluateScript_Throw(t *testing.T) {
	ctx := newContext(t)

	v, exc := eval(t, ctx, "throw new Error('message')")
	if v != 0 {
		t.Fatalf("result = %d, want NULL", v)
	}
	if exc == 0 {
		t.Fatal("expected exception")
	}
	if got := toString(ctx, exc); got != "Error: message" {
		t.Fatalf("exception = %q", got)
	}
}

func TestEvaluateScript_ThrowPrimitive(t *testing.T) {
	ctx := newContext(t)

	_, exc := eval(t, ctx, "throw 42")
	if exc == 0 {
		t.Fatal("expected exception")
	}
	if got := ValueToNumber(ctx, exc, nil); got != 42 {
		t.Fatalf("exception = %v, want 42", got)
	}
}

func TestEvaluateScript_SyntaxError(t *testing.T) {
	ctx := newContext(t)

	_, exc := eval(t, ctx, "var = ;")
	if exc == 0 {
		t.Fatal("expected exception")
	}
	if got := toString(ctx, exc); !strings.HasPrefix(got, "SyntaxError") {
		t.Fatalf("exception = %q, want SyntaxError", got)
	}
}

func TestEvaluateScript_StackOverflow(t *testing.T) {
	ctx := GlobalContextCreateWithConfig(0, Config{MaxCallStackSize: 64})
	defer GlobalContextRelease(ctx)

	var exc ValueRef
	src := StringCreate("function f() { return f(); } f()")
	defer StringRelease(src)
	if v := EvaluateScript(ctx, src, 0, 1, &exc); v != 0 {
		t.Fatal("expected failure")
	}
	if got := toString(ctx, exc); !strings.Contains(got, "Maximum call stack size exceeded") {
		t.Fatalf("exception = %q", got)
	}

	// the context stays usable
	var exc2 ValueRef
	ok := StringCreate("1")
	defer StringRelease(ok)
	if v := EvaluateScript(ctx, ok, 0, 1, &exc2); v == 0 || exc2 != 0 {
		t.Fatal("context unusable after stack overflow")
	}
}

func TestEvaluateScript_StartingLine(t *testing.T) {
	ctx := newContext(t)

	var exc ValueRef
	EvaluateScript(ctx, str(t, "\nthrow new Error('x')"), str(t, "src.js"), 10, &exc)
	if exc == 0 {
		t.Fatal("expected exception")
	}
	stack := ObjectGetProperty(ctx, ObjectRef(exc), str(t, "stack"), nil)
	if got := toString(ctx, stack); !strings.Contains(got, "src.js:11:") {
		t.Fatalf("stack = %q, want src.js:11:", got)
	}
}

func TestEvaluateScript_GlobalScope(t *testing.T) {
	ctx := newContext(t)

	mustEval(t, ctx, "var counter = 1")
	mustEval(t, ctx, "counter += 41")
	if got := ValueToNumber(ctx, mustEval(t, ctx, "counter"), nil); got != 42 {
		t.Fatalf("counter = %v", got)
	}
}

func TestCheckScriptSyntax(t *testing.T) {
	ctx := newContext(t)

	if !CheckScriptSyntax(ctx, str(t, "function f() { return 1 }"), 0, 1, nil) {
		t.Fatal("valid script rejected")
	}

	var exc ValueRef
	if CheckScriptSyntax(ctx, str(t, "function ("), 0, 1, &exc) {
		t.Fatal("invalid script accepted")
	}
	if got := toString(ctx, exc); !strings.HasPrefix(got, "SyntaxError") {
		t.Fatalf("exception = %q, want SyntaxError", got)
	}

	// checking must not run anything
	CheckScriptSyntax(ctx, str(t, "var sideEffect = 1"), 0, 1, nil)
	if got := ValueGetType(ctx, mustEval(t, ctx, "typeof sideEffect === 'undefined' ? undefined : 1")); got != TypeUndefined {
		t.Fatalf("syntax check executed the script")
	}
}

func TestGlobalContext_RefCount(t *testing.T) {
	before := ContextCount()
	ctx := GlobalContextCreate(0)
	if ContextCount() != before+1 {
		t.Fatalf("ContextCount = %d, want %d", ContextCount(), before+1)
	}

	GlobalContextRetain(ctx)
	if got := GlobalContextRefCount(ctx); got != 2 {
		t.Fatalf("refcount = %d, want 2", got)
	}
	GlobalContextRelease(ctx)
	if !live(ctx) {
		t.Fatal("context released early")
	}
	GlobalContextRelease(ctx)
	if live(ctx) {
		t.Fatal("context still live after final release")
	}
	if ContextCount() != before {
		t.Fatalf("ContextCount = %d, want %d", ContextCount(), before)
	}
}

func TestGlobalContext_ReleasedHandlePanics(t *testing.T) {
	ctx := GlobalContextCreate(0)
	GlobalContextRelease(ctx)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for released context")
		}
	}()
	ValueMakeUndefined(ctx)
}

func TestGlobalContext_Isolation(t *testing.T) {
	a := newContext(t)
	b := newContext(t)

	mustEval(t, a, "var shared = 'a'")
	if got := toString(b, mustEval(t, b, "typeof shared")); got != "undefined" {
		t.Fatalf("global leaked across contexts: %q", got)
	}
}

func TestGlobalContext_ForeignHandlePanics(t *testing.T) {
	a := newContext(t)
	b := newContext(t)
	v := ValueMakeNumber(a, 1)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for handle from another context")
		}
	}()
	ValueToBoolean(b, v)
}

func TestProtect_Balance(t *testing.T) {
	ctx := newContext(t)
	base := ContextProtectedCount(ctx)

	v := mustEval(t, ctx, "({a: 1})")
	ValueProtect(ctx, v)
	ValueProtect(ctx, v)
	if got := ContextProtectedCount(ctx); got != base+2 {
		t.Fatalf("protected = %d, want %d", got, base+2)
	}

	ContextSweepTemporaries(ctx)
	if ValueGetType(ctx, v) != TypeObject {
		t.Fatal("protected value swept")
	}

	ValueUnprotect(ctx, v)
	ValueUnprotect(ctx, v)
	if got := ContextProtectedCount(ctx); got != base {
		t.Fatalf("protected = %d, want %d", got, base)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unbalanced unprotect")
		}
	}()
	ValueUnprotect(ctx, v)
}

func TestSweepTemporaries(t *testing.T) {
	ctx := newContext(t)
	ContextSweepTemporaries(ctx)

	kept := ValueMakeNumber(ctx, 1)
	ValueProtect(ctx, kept)
	for i := 0; i < 10; i++ {
		ValueMakeNumber(ctx, float64(i))
	}
	if got := ContextSweepTemporaries(ctx); got != 10 {
		t.Fatalf("swept = %d, want 10", got)
	}
	if got := ContextHandleCount(ctx); got != 1 {
		t.Fatalf("handles = %d, want 1", got)
	}

	// a swept protected value dies on its last unprotect
	ValueUnprotect(ctx, kept)
	if got := ContextHandleCount(ctx); got != 0 {
		t.Fatalf("handles = %d, want 0", got)
	}
}

func TestGlobalObject(t *testing.T) {
	ctx := newContext(t)

	global := ContextGetGlobalObject(ctx)
	ObjectSetProperty(ctx, global, str(t, "answer"), ValueMakeNumber(ctx, 42), AttributeNone, nil)
	if got := ValueToNumber(ctx, mustEval(t, ctx, "answer"), nil); got != 42 {
		t.Fatalf("answer = %v", got)
	}
}
