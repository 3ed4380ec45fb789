package runtime

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/wippyai/jsbridge/errors"
)

var errBoom = stderrors.New("boom")

func failing(err error) Func {
	return func(ctx *Context, this *Value, args []*Value) (*Value, error) {
		return nil, err
	}
}

func setFunc(t *testing.T, c *Context, name string, fn Func) {
	t.Helper()
	v, err := c.NewFunction(name, fn)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Release()
	if err := c.SetGlobal(name, v); err != nil {
		t.Fatal(err)
	}
}

func TestHostError_RoundTrip(t *testing.T) {
	c := newTestContext(t)
	setFunc(t, c, "fail", failing(errBoom))

	_, err := c.Evaluate("fail()")
	if err != errBoom {
		t.Fatalf("got %v (%T), want the original error", err, err)
	}

	msg := mustEval(t, c, "try { fail() } catch (e) { e instanceof Error && e.message }")
	if s := mustString(t, msg); s != "boom" {
		t.Fatalf("script saw %q", s)
	}
	cause := mustEval(t, c, "try { fail() } catch (e) { String(e.cause) }")
	if s := mustString(t, cause); s != "boom" {
		t.Fatalf("cause prints as %q", s)
	}
}

func TestHostError_Rethrown(t *testing.T) {
	c := newTestContext(t)
	setFunc(t, c, "fail", failing(errBoom))

	_, err := c.Evaluate("function relay() { try { fail() } catch (e) { throw e } } relay()")
	if err != errBoom {
		t.Fatalf("got %v, want the original error", err)
	}
}

func TestHostError_WrappedByScript(t *testing.T) {
	c := newTestContext(t)
	setFunc(t, c, "fail", failing(errBoom))

	_, err := c.Evaluate(`
		try {
			fail();
		} catch (e) {
			var outer = new Error('while failing');
			outer.cause = e;
			throw outer;
		}`)
	if err == errBoom {
		t.Fatal("outer error was dropped")
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("got %v, want it to wrap the original error", err)
	}
	var e *errors.Error
	if !errors.As(err, &e) || e.Message() != "Error: while failing" {
		t.Fatalf("outer error %v", err)
	}
}

func TestHostError_Wrapped(t *testing.T) {
	c := newTestContext(t)
	wrapped := fmt.Errorf("lookup user: %w", errBoom)
	setFunc(t, c, "fail", failing(wrapped))

	_, err := c.Evaluate("fail()")
	if err != wrapped || !errors.Is(err, errBoom) {
		t.Fatalf("got %v", err)
	}
	msg := mustEval(t, c, "try { fail() } catch (e) { e.message }")
	if s := mustString(t, msg); s != "lookup user: boom" {
		t.Fatalf("message %q", s)
	}
}

func TestHostError_EngineExceptionPassthrough(t *testing.T) {
	c := newTestContext(t)

	thrower := mustEval(t, c, "(function () { throw { code: 42 } })")
	setFunc(t, c, "relay", func(ctx *Context, this *Value, args []*Value) (*Value, error) {
		_, err := thrower.Call(nil)
		return nil, err
	})

	v := mustEval(t, c, "try { relay() } catch (e) { e.code }")
	if f := mustFloat(t, v); f != 42 {
		t.Fatalf("script caught %v, want the original thrown object", f)
	}
}

func TestErrorValue(t *testing.T) {
	c := newTestContext(t)

	ev, err := c.ErrorValue(errBoom)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetGlobal("hostErr", ev); err != nil {
		t.Fatal(err)
	}
	if s := mustString(t, ev); s != "Error: boom" {
		t.Fatalf("ToString = %q", s)
	}
	got, err := ev.Export()
	if err != nil || got != errBoom {
		t.Fatalf("Export = %v, %v", got, err)
	}
	ev.Release()

	if _, err := c.Evaluate("throw hostErr"); err != errBoom {
		t.Fatalf("got %v", err)
	}
	if _, err := c.ErrorValue(nil); err == nil {
		t.Fatal("nil error accepted")
	}

	conv, err := c.ValueOf(errBoom)
	if err != nil {
		t.Fatal(err)
	}
	defer conv.Release()
	if !conv.IsObject() {
		t.Fatalf("error converted to %s", conv.TypeName())
	}
}

func TestNewError(t *testing.T) {
	c := newTestContext(t)

	e, err := c.NewError("plain")
	if err != nil {
		t.Fatal(err)
	}
	defer e.Release()
	if s := mustString(t, e); s != "Error: plain" {
		t.Fatalf("got %q", s)
	}
	if _, ok := c.carried(e); ok {
		t.Fatal("plain error carries a host error")
	}
}

func TestHostError_ReleasedOnClose(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatal(err)
	}
	base := hostErrors.Len()
	ev, err := c.ErrorValue(errBoom)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetGlobal("kept", ev); err != nil {
		t.Fatal(err)
	}
	ev.Release()
	if n := hostErrors.Len(); n != base+1 {
		t.Fatalf("host errors %d, want %d", n, base+1)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if n := hostErrors.Len(); n != base {
		t.Fatalf("host errors %d after close, want %d", n, base)
	}
}
