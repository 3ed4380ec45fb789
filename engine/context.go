package engine

import (
	"runtime"
	"sync/atomic"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wippyai/jsbridge/errors"
	"github.com/wippyai/jsbridge/native"
	"github.com/wippyai/jsbridge/registry"
)

var contexts = registry.New[*globalContext]("contexts")

func init() {
	registry.Register(contexts)
}

// globalContext is single-threaded except for hosts, which finalizers
// touch from the cleanup goroutine.
type globalContext struct {
	vm       *goja.Runtime
	handles  map[ValueRef]*slot
	hosts    *hostTable
	in       intrinsics
	frames   [][]ValueRef
	top      []ValueRef
	ref      ContextRef
	refs     atomic.Int32
	released bool
}

func lookup(ref ContextRef) *globalContext {
	c, ok := contexts.Lookup(registry.ID(ref))
	if !ok {
		panic(errors.BridgeInternal("context %d is not live", ref))
	}
	return c
}

func nativeHeap() *native.Heap {
	h, err := native.Default()
	if err != nil {
		panic(errors.BridgeInternal("native heap unavailable: %v", err))
	}
	return h
}

// GlobalContextCreate creates a context with refcount 1.
// A non-NULL class supplies the global object's prototype.
func GlobalContextCreate(class ClassRef) ContextRef {
	return GlobalContextCreateWithConfig(class, DefaultConfig())
}

// GlobalContextCreateWithConfig is GlobalContextCreate with explicit settings.
func GlobalContextCreateWithConfig(class ClassRef, cfg Config) ContextRef {
	vm := goja.New()
	if cfg.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(cfg.MaxCallStackSize)
	}

	c := &globalContext{
		vm:      vm,
		handles: make(map[ValueRef]*slot),
		hosts:   newHostTable(),
	}
	c.refs.Store(1)
	if err := c.loadIntrinsics(); err != nil {
		panic(errors.BridgeInternal("load intrinsics: %v", err))
	}
	c.ref = ContextRef(contexts.Insert(c))

	if class != 0 {
		proto := c.makeHostObject(lookupClass(class), native.Null)
		if err := vm.GlobalObject().SetPrototype(proto); err != nil {
			panic(errors.BridgeInternal("install global class: %v", err))
		}
	}

	Logger().Debug("context created",
		zap.Uint64("context", uint64(c.ref)),
		zap.Int("max_call_stack", cfg.MaxCallStackSize))
	return c.ref
}

// GlobalContextRetain increments the context refcount.
func GlobalContextRetain(ctx ContextRef) ContextRef {
	lookup(ctx).refs.Add(1)
	return ctx
}

// GlobalContextRelease decrements the context refcount. At zero every
// pending finalizer of the context runs synchronously and the handle is
// no longer live. Script still on the stack when that happens sees an
// Error from every later host callback.
func GlobalContextRelease(ctx ContextRef) {
	c := lookup(ctx)
	n := c.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		panic(errors.BridgeInternal("context %d released too many times", ctx))
	}
	c.release()
}

func (c *globalContext) release() {
	c.released = true
	contexts.Remove(registry.ID(c.ref))

	pending := c.hosts.snapshot()
	for _, ho := range pending {
		ho.finalize()
	}

	Logger().Debug("context released",
		zap.Uint64("context", uint64(c.ref)),
		zap.Int("finalized", len(pending)),
		zap.Int("handles", len(c.handles)))

	if len(c.frames) > 0 {
		// script is still running on this context
		return
	}
	c.handles = nil
	c.frames = nil
	c.top = nil
	c.in = intrinsics{}
	c.vm = nil
}

// GlobalContextRefCount returns the current refcount.
func GlobalContextRefCount(ctx ContextRef) int {
	return int(lookup(ctx).refs.Load())
}

// ContextGetGlobalObject returns the global object.
func ContextGetGlobalObject(ctx ContextRef) ObjectRef {
	c := lookup(ctx)
	return ObjectRef(c.newHandle(c.vm.GlobalObject()))
}

// GarbageCollect drops unprotected top-level temporaries and runs a Go
// collection. Finalizers of unreachable host objects then run on the
// cleanup goroutine.
func GarbageCollect(ctx ContextRef) {
	c := lookup(ctx)
	n := c.sweep()
	runtime.GC()
	Logger().Debug("garbage collected", zap.Uint64("context", uint64(ctx)), zap.Int("swept", n))
}

// ContextSweepTemporaries drops unprotected top-level temporaries without
// collecting. It returns the number of handles dropped.
func ContextSweepTemporaries(ctx ContextRef) int {
	return lookup(ctx).sweep()
}

// ContextProtectedCount returns the sum of protect counts in the context.
func ContextProtectedCount(ctx ContextRef) int {
	return lookup(ctx).protectedCount()
}

// ContextHandleCount returns the number of live handles in the context.
func ContextHandleCount(ctx ContextRef) int {
	return len(lookup(ctx).handles)
}

// ContextPendingFinalizers returns the number of host objects not yet finalized.
func ContextPendingFinalizers(ctx ContextRef) int {
	return lookup(ctx).hosts.len()
}

// ContextCount returns the number of live contexts.
func ContextCount() int {
	return contexts.Len()
}

// setException stores v as a temporary in *exception when exception is non-nil.
func (c *globalContext) setException(exception *ValueRef, v goja.Value) {
	if exception != nil {
		*exception = c.newHandle(v)
	}
}
