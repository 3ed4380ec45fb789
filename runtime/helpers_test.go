package runtime

import (
	"math"
	"testing"
	"time"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	c, err := New()
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustEval(t *testing.T, c *Context, script string) *Value {
	t.Helper()
	v, err := c.Evaluate(script)
	if err != nil {
		t.Fatalf("evaluate %q: %v", script, err)
	}
	t.Cleanup(v.Release)
	return v
}

func mustFloat(t *testing.T, v *Value) float64 {
	t.Helper()
	f, err := v.ToFloat64()
	if err != nil {
		t.Fatalf("to float: %v", err)
	}
	return f
}

func mustString(t *testing.T, v *Value) string {
	t.Helper()
	s, err := v.ToString()
	if err != nil {
		t.Fatalf("to string: %v", err)
	}
	return s
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// eventually polls cond until it holds or five seconds pass, running a Go
// collection between attempts.
func eventually(t *testing.T, c *Context, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		c.CollectGarbage()
		time.Sleep(10 * time.Millisecond)
	}
}

func sumFunc(ctx *Context, this *Value, args []*Value) (*Value, error) {
	total := 0.0
	for _, a := range args {
		f, err := a.ToFloat64()
		if err != nil {
			return nil, err
		}
		total += f
	}
	return ctx.Number(total), nil
}
