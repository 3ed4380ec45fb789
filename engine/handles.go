package engine

import (
	"sync/atomic"

	"github.com/dop251/goja"

	"github.com/wippyai/jsbridge/errors"
)

// Handle ids are process-wide so a handle presented to the wrong context
// is detected instead of aliasing a live slot there.
var nextHandle atomic.Uint64

type slot struct {
	value   goja.Value
	protect int
	// owned is set while a frame or the top-level list holds the slot.
	owned bool
}

func (c *globalContext) newHandle(v goja.Value) ValueRef {
	if v == nil {
		v = goja.Undefined()
	}
	ref := ValueRef(nextHandle.Add(1))
	c.handles[ref] = &slot{value: v, owned: true}
	if n := len(c.frames); n > 0 {
		c.frames[n-1] = append(c.frames[n-1], ref)
	} else {
		c.top = append(c.top, ref)
	}
	return ref
}

func (c *globalContext) slot(ref ValueRef) *slot {
	s, ok := c.handles[ref]
	if !ok {
		panic(errors.BridgeInternal("value handle %d is not live in context %d", ref, c.ref))
	}
	return s
}

// value resolves a handle. NULL reads as undefined.
func (c *globalContext) value(ref ValueRef) goja.Value {
	if ref == 0 {
		return goja.Undefined()
	}
	return c.slot(ref).value
}

func (c *globalContext) object(ref ObjectRef) *goja.Object {
	o, ok := c.value(ValueRef(ref)).(*goja.Object)
	if !ok {
		panic(errors.BridgeInternal("handle %d does not hold an object", ref))
	}
	return o
}

func (c *globalContext) protect(ref ValueRef) {
	if ref == 0 {
		return
	}
	c.slot(ref).protect++
}

func (c *globalContext) unprotect(ref ValueRef) {
	if ref == 0 {
		return
	}
	s := c.slot(ref)
	if s.protect == 0 {
		panic(errors.BridgeInternal("unprotect of unprotected value handle %d", ref))
	}
	s.protect--
	if s.protect == 0 && !s.owned {
		delete(c.handles, ref)
	}
}

// drop releases a frame's claim on a slot.
func (c *globalContext) drop(ref ValueRef) bool {
	s, ok := c.handles[ref]
	if !ok {
		return false
	}
	s.owned = false
	if s.protect == 0 {
		delete(c.handles, ref)
		return true
	}
	return false
}

func (c *globalContext) pushFrame() {
	c.frames = append(c.frames, nil)
}

func (c *globalContext) popFrame() {
	n := len(c.frames) - 1
	refs := c.frames[n]
	c.frames[n] = nil
	c.frames = c.frames[:n]
	if c.released {
		return
	}
	for _, ref := range refs {
		c.drop(ref)
	}
}

// withFrame runs f with a fresh temporary scope.
func (c *globalContext) withFrame(f func()) {
	c.pushFrame()
	defer c.popFrame()
	f()
}

// sweep drops unprotected top-level temporaries. It does nothing while a
// callback frame is active.
func (c *globalContext) sweep() int {
	if len(c.frames) > 0 {
		return 0
	}
	n := 0
	for _, ref := range c.top {
		if c.drop(ref) {
			n++
		}
	}
	c.top = nil
	return n
}

func (c *globalContext) protectedCount() int {
	n := 0
	for _, s := range c.handles {
		n += s.protect
	}
	return n
}
