package engine

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/jsbridge/native"
	"github.com/wippyai/jsbridge/registry"
)

func newClass(t *testing.T, def ClassDefinition) ClassRef {
	t.Helper()
	ref := ClassCreate(&def)
	t.Cleanup(func() { ClassRelease(ref) })
	return ref
}

func setGlobal(t *testing.T, ctx ContextRef, name string, v ValueRef) {
	t.Helper()
	var exc ValueRef
	ObjectSetProperty(ctx, ContextGetGlobalObject(ctx), str(t, name), v, AttributeNone, &exc)
	if exc != 0 {
		t.Fatalf("set %s: %s", name, toString(ctx, exc))
	}
}

func TestClass_CallAsFunction(t *testing.T) {
	ctx := newContext(t)

	var sawThis atomic.Bool
	sum := newClass(t, ClassDefinition{
		ClassName: "sum",
		CallAsFunction: func(ctx ContextRef, fn, this ObjectRef, argc int, argv native.Pointer, exc *ValueRef) ValueRef {
			if this != 0 {
				sawThis.Store(true)
			}
			total := 0.0
			for _, a := range readArgv(argc, argv) {
				total += ValueToNumber(ctx, a, exc)
			}
			return ValueMakeNumber(ctx, total)
		},
	})
	setGlobal(t, ctx, "sum", ValueRef(ObjectMake(ctx, sum, native.Null)))

	if got := ValueToNumber(ctx, mustEval(t, ctx, "sum(1, 2, 3.5)"), nil); got != 6.5 {
		t.Fatalf("sum = %v, want 6.5", got)
	}
	if got := ValueToNumber(ctx, mustEval(t, ctx, "sum()"), nil); got != 0 {
		t.Fatalf("sum() = %v, want 0", got)
	}
	if got := toString(ctx, mustEval(t, ctx, "sum.name")); got != "sum" {
		t.Fatalf("name = %q", got)
	}
	desc := "var d = Object.getOwnPropertyDescriptor(sum, 'name'); [d.writable, d.enumerable, d.configurable].join()"
	if got := toString(ctx, mustEval(t, ctx, desc)); got != "false,false,true" {
		t.Fatalf("name descriptor = %q", got)
	}
	if got := toString(ctx, mustEval(t, ctx, "typeof sum")); got != "function" {
		t.Fatalf("typeof = %q", got)
	}
	if sawThis.Load() {
		t.Fatal("strict call passed a receiver")
	}
	mustEval(t, ctx, "sum.call({}, 1)")
	if !sawThis.Load() {
		t.Fatal("receiver was not passed")
	}

	_, exc := eval(t, ctx, "new sum()")
	if exc == 0 || !strings.HasPrefix(toString(ctx, exc), "TypeError") {
		t.Fatal("construct without hook should throw TypeError")
	}
}

func TestClass_CallThrows(t *testing.T) {
	ctx := newContext(t)

	fail := newClass(t, ClassDefinition{
		CallAsFunction: func(ctx ContextRef, fn, this ObjectRef, argc int, argv native.Pointer, exc *ValueRef) ValueRef {
			*exc = mustEvalNoT(ctx, "new RangeError('nope')")
			return 0
		},
	})
	setGlobal(t, ctx, "fail", ValueRef(ObjectMake(ctx, fail, native.Null)))

	got := toString(ctx, mustEval(t, ctx, "try { fail(); 'no' } catch (e) { e instanceof RangeError ? e.message : 'wrong' }"))
	if got != "nope" {
		t.Fatalf("caught = %q, want nope", got)
	}
}

// mustEvalNoT evaluates from inside a hook, where no *testing.T is at hand.
func mustEvalNoT(ctx ContextRef, src string) ValueRef {
	s := StringCreate(src)
	defer StringRelease(s)
	return EvaluateScript(ctx, s, 0, 1, nil)
}

func TestClass_Construct(t *testing.T) {
	ctx := newContext(t)

	point := newClass(t, ClassDefinition{
		ClassName: "Point",
		CallAsConstructor: func(ctx ContextRef, ctor ObjectRef, argc int, argv native.Pointer, exc *ValueRef) ObjectRef {
			args := readArgv(argc, argv)
			obj := ObjectMake(ctx, 0, native.Null)
			x := StringCreate("x")
			defer StringRelease(x)
			if len(args) > 0 {
				ObjectSetProperty(ctx, obj, x, args[0], AttributeNone, exc)
			}
			return obj
		},
	})
	setGlobal(t, ctx, "Point", ValueRef(ObjectMake(ctx, point, native.Null)))

	if got := ValueToNumber(ctx, mustEval(t, ctx, "new Point(7).x"), nil); got != 7 {
		t.Fatalf("x = %v, want 7", got)
	}

	_, exc := eval(t, ctx, "Point(1)")
	if exc == 0 || !strings.HasPrefix(toString(ctx, exc), "TypeError") {
		t.Fatal("call without hook should throw TypeError")
	}

	var exc2 ValueRef
	ctorRef := ObjectRef(mustEval(t, ctx, "Point"))
	if !ObjectIsConstructor(ctx, ctorRef) {
		t.Fatal("Point is not a constructor")
	}
	obj := ObjectCallAsConstructor(ctx, ctorRef, 1, makeArgv(t, ValueMakeNumber(ctx, 3)), &exc2)
	if exc2 != 0 {
		t.Fatalf("construct threw %s", toString(ctx, exc2))
	}
	if got := ValueToNumber(ctx, ObjectGetProperty(ctx, obj, str(t, "x"), nil), nil); got != 3 {
		t.Fatalf("x = %v, want 3", got)
	}
}

func TestClass_ConstructMustReturnObject(t *testing.T) {
	ctx := newContext(t)

	bad := newClass(t, ClassDefinition{
		CallAsConstructor: func(ctx ContextRef, ctor ObjectRef, argc int, argv native.Pointer, exc *ValueRef) ObjectRef {
			return ObjectRef(ValueMakeNumber(ctx, 1))
		},
	})
	setGlobal(t, ctx, "Bad", ValueRef(ObjectMake(ctx, bad, native.Null)))

	_, exc := eval(t, ctx, "new Bad()")
	if exc == 0 || !strings.HasPrefix(toString(ctx, exc), "TypeError") {
		t.Fatal("expected TypeError")
	}
}

func TestClass_HasInstance(t *testing.T) {
	ctx := newContext(t)

	even := newClass(t, ClassDefinition{
		HasInstance: func(ctx ContextRef, ctor ObjectRef, v ValueRef, exc *ValueRef) bool {
			return ValueIsNumber(ctx, v) && int(ValueToNumber(ctx, v, nil))%2 == 0
		},
	})
	setGlobal(t, ctx, "Even", ValueRef(ObjectMake(ctx, even, native.Null)))

	if !ValueToBoolean(ctx, mustEval(t, ctx, "4 instanceof Even")) {
		t.Fatal("4 instanceof Even = false")
	}
	if ValueToBoolean(ctx, mustEval(t, ctx, "3 instanceof Even")) {
		t.Fatal("3 instanceof Even = true")
	}

	var exc ValueRef
	if !ValueIsInstanceOfConstructor(ctx, ValueMakeNumber(ctx, 8), ObjectRef(mustEval(t, ctx, "Even")), &exc) {
		t.Fatal("ValueIsInstanceOfConstructor(8, Even) = false")
	}
}

func TestClass_ConvertToType(t *testing.T) {
	ctx := newContext(t)

	money := newClass(t, ClassDefinition{
		ConvertToType: func(ctx ContextRef, obj ObjectRef, typ ValueType, exc *ValueRef) ValueRef {
			if typ == TypeNumber {
				return ValueMakeNumber(ctx, 100)
			}
			s := StringCreate("$1.00")
			defer StringRelease(s)
			return ValueMakeString(ctx, s)
		},
	})
	setGlobal(t, ctx, "m", ValueRef(ObjectMake(ctx, money, native.Null)))

	if got := ValueToNumber(ctx, mustEval(t, ctx, "+m"), nil); got != 100 {
		t.Fatalf("+m = %v", got)
	}
	if got := toString(ctx, mustEval(t, ctx, "`${m}`")); got != "$1.00" {
		t.Fatalf("`${m}` = %q", got)
	}
}

func TestClass_ConvertFallback(t *testing.T) {
	ctx := newContext(t)

	plain := newClass(t, ClassDefinition{
		ConvertToType: func(ctx ContextRef, obj ObjectRef, typ ValueType, exc *ValueRef) ValueRef {
			return 0
		},
	})
	setGlobal(t, ctx, "p", ValueRef(ObjectMake(ctx, plain, native.Null)))

	if got := toString(ctx, mustEval(t, ctx, "String(p)")); got != "[object Object]" {
		t.Fatalf("String(p) = %q", got)
	}
}

func TestClass_InitializeAndPrivate(t *testing.T) {
	ctx := newContext(t)

	var initialized atomic.Int32
	cls := newClass(t, ClassDefinition{
		ClassName: "Box",
		Initialize: func(ctx ContextRef, obj ObjectRef) {
			initialized.Add(1)
		},
	})

	obj := ObjectMake(ctx, cls, native.Pointer(0x40))
	if initialized.Load() != 1 {
		t.Fatalf("initialize ran %d times", initialized.Load())
	}
	if got := ObjectGetPrivate(ctx, obj); got != 0x40 {
		t.Fatalf("private = %#x, want 0x40", got)
	}
	if !ValueIsObjectOfClass(ctx, ValueRef(obj), cls) {
		t.Fatal("ValueIsObjectOfClass = false")
	}
	plain := ObjectMake(ctx, 0, native.Pointer(0x40))
	if ObjectGetPrivate(ctx, plain) != native.Null {
		t.Fatal("plain object has private data")
	}
	if ValueIsObjectOfClass(ctx, ValueRef(plain), cls) {
		t.Fatal("plain object reported as class instance")
	}
}

func TestClass_TemporariesDroppedAfterHook(t *testing.T) {
	ctx := newContext(t)

	var during atomic.Int64
	probe := newClass(t, ClassDefinition{
		CallAsFunction: func(ctx ContextRef, fn, this ObjectRef, argc int, argv native.Pointer, exc *ValueRef) ValueRef {
			for i := 0; i < 5; i++ {
				ValueMakeNumber(ctx, float64(i))
			}
			during.Store(int64(ContextHandleCount(ctx)))
			return ValueMakeUndefined(ctx)
		},
	})
	f := ObjectMake(ctx, probe, native.Null)
	ValueProtect(ctx, ValueRef(f))
	defer ValueUnprotect(ctx, ValueRef(f))
	ContextSweepTemporaries(ctx)

	before := ContextHandleCount(ctx)
	var exc ValueRef
	ObjectCallAsFunction(ctx, f, 0, 3, makeArgv(t,
		ValueMakeNumber(ctx, 1), ValueMakeNumber(ctx, 2), ValueMakeNumber(ctx, 3)), &exc)
	if exc != 0 {
		t.Fatalf("call threw %s", toString(ctx, exc))
	}
	if during.Load() <= int64(before) {
		t.Fatalf("hook saw %d handles, want more than %d", during.Load(), before)
	}

	ContextSweepTemporaries(ctx)
	if got := ContextHandleCount(ctx); got != before {
		t.Fatalf("handles = %d after sweep, want %d", got, before)
	}
}

func TestClass_FinalizeOnRelease(t *testing.T) {
	var mu sync.Mutex
	var finalized []native.Pointer
	cls := newClass(t, ClassDefinition{
		Finalize: func(p native.Pointer) {
			mu.Lock()
			finalized = append(finalized, p)
			mu.Unlock()
		},
	})

	ctx := GlobalContextCreate(0)
	ObjectMake(ctx, cls, 0x10)
	ObjectMake(ctx, cls, 0x20)
	if got := ContextPendingFinalizers(ctx); got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}
	GlobalContextRelease(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(finalized) != 2 {
		t.Fatalf("finalized %d objects, want 2", len(finalized))
	}
	seen := map[native.Pointer]bool{}
	for _, p := range finalized {
		seen[p] = true
	}
	if !seen[0x10] || !seen[0x20] {
		t.Fatalf("finalized %v", finalized)
	}
}

func TestClass_FinalizeOnCollect(t *testing.T) {
	var finalized atomic.Int32
	cls := newClass(t, ClassDefinition{
		Finalize: func(p native.Pointer) { finalized.Add(1) },
	})
	ctx := newContext(t)

	kept := ObjectMake(ctx, cls, native.Null)
	ValueProtect(ctx, ValueRef(kept))
	for i := 0; i < 8; i++ {
		ObjectMake(ctx, cls, native.Null)
	}
	// flush any stale references the VM holds from the last run
	mustEval(t, ctx, "0")

	deadline := time.Now().Add(5 * time.Second)
	for finalized.Load() < 8 && time.Now().Before(deadline) {
		GarbageCollect(ctx)
		time.Sleep(10 * time.Millisecond)
	}
	if got := finalized.Load(); got != 8 {
		t.Fatalf("finalized %d, want 8", got)
	}
	if got := ContextPendingFinalizers(ctx); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
	ValueUnprotect(ctx, ValueRef(kept))
}

func TestClass_ReleaseDuringCallback(t *testing.T) {
	var finalized atomic.Int32
	release := newClass(t, ClassDefinition{
		Finalize: func(native.Pointer) { finalized.Add(1) },
		CallAsFunction: func(c ContextRef, fn, this ObjectRef, argc int, argv native.Pointer, exc *ValueRef) ValueRef {
			GlobalContextRelease(c)
			return 0
		},
	})

	ctx := GlobalContextCreate(0)
	g := ContextGetGlobalObject(ctx)
	name := StringCreate("release")
	defer StringRelease(name)
	ObjectSetProperty(ctx, g, name, ValueRef(ObjectMake(ctx, release, native.Null)), AttributeNone, nil)

	src := StringCreate("release(); var after; try { release(); after = 'no' } catch (e) { after = String(e) } after")
	defer StringRelease(src)
	var exc ValueRef
	res := EvaluateScript(ctx, src, 0, 1, &exc)
	if exc != 0 || res == 0 {
		t.Fatal("script failed after release")
	}
	if live(ctx) {
		t.Fatal("context still live")
	}
	if finalized.Load() != 1 {
		t.Fatalf("finalized = %d, want 1", finalized.Load())
	}
}

func TestClass_GlobalPrototype(t *testing.T) {
	var got atomic.Int32
	cls := newClass(t, ClassDefinition{
		Initialize: func(ctx ContextRef, obj ObjectRef) {
			s := StringCreate("fromClass")
			defer StringRelease(s)
			ObjectSetProperty(ctx, obj, s, ValueMakeNumber(ctx, 9), AttributeNone, nil)
			got.Add(1)
		},
	})
	ctx := GlobalContextCreate(cls)
	defer GlobalContextRelease(ctx)

	if got.Load() != 1 {
		t.Fatal("global class not initialized")
	}
	if v := ValueToNumber(ctx, mustEvalNoT(ctx, "fromClass"), nil); v != 9 {
		t.Fatalf("fromClass = %v, want 9", v)
	}
}

func TestClass_RefCount(t *testing.T) {
	ref := ClassCreate(&ClassDefinition{ClassName: "rc"})
	ClassRetain(ref)
	ClassRelease(ref)
	if _, ok := classes.Lookup(registry.ID(ref)); !ok {
		t.Fatal("class released early")
	}
	ClassRelease(ref)
	if _, ok := classes.Lookup(registry.ID(ref)); ok {
		t.Fatal("class still registered")
	}
}
