package runtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/jsbridge/engine"
	"github.com/wippyai/jsbridge/errors"
	"github.com/wippyai/jsbridge/native"
	"github.com/wippyai/jsbridge/registry"
)

// Func is a Go function callable from script.
//
// this is undefined for plain calls and the new object for constructor
// calls. this and args are borrowed: they are released when Func returns,
// so Clone any of them that must outlive the call. The returned Value is
// consumed by the engine; return Clone() of a Value you want to keep. A nil
// Value returns undefined. A non-nil error is thrown into script as an
// Error whose cause carries the original error back out.
type Func func(ctx *Context, this *Value, args []*Value) (*Value, error)

type callbackRecord struct {
	ctx  *Context
	fn   Func
	name string
}

var callbacks = registry.New[*callbackRecord]("callbacks")

func init() {
	registry.Register(callbacks)
}

// Callbacks returns the process-wide table of live host functions.
func Callbacks() registry.Source {
	return callbacks
}

var (
	classOnce      sync.Once
	functionClass  engine.ClassRef
	hostErrorClass engine.ClassRef
)

// classes creates the two process-wide host classes on first use. They
// are never released.
func classes() (fn, hostErr engine.ClassRef) {
	classOnce.Do(func() {
		functionClass = engine.ClassCreate(&engine.ClassDefinition{
			ClassName:         "HostFunction",
			Finalize:          finalizeFunction,
			CallAsFunction:    callFunction,
			CallAsConstructor: constructFunction,
			HasInstance:       hasInstance,
		})
		hostErrorClass = engine.ClassCreate(&engine.ClassDefinition{
			ClassName:     "HostError",
			Finalize:      finalizeHostError,
			ConvertToType: convertHostError,
		})
	})
	return functionClass, hostErrorClass
}

// A carrier is the private data of every host object: one 8-byte native
// block holding a registry ID. The engine never sees a Go pointer.
func newCarrier(id registry.ID) (native.Pointer, error) {
	h, err := native.Default()
	if err != nil {
		return native.Null, err
	}
	p, err := h.Allocate(native.PointerWidth)
	if err != nil {
		return native.Null, err
	}
	if err := h.WriteU64(uint32(p), uint64(id)); err != nil {
		_ = h.Release(p)
		return native.Null, err
	}
	return p, nil
}

func carrierID(p native.Pointer) registry.ID {
	if p == native.Null {
		panic(errors.BridgeInternal("host object has no private data"))
	}
	h, err := native.Default()
	if err != nil {
		panic(errors.BridgeInternal("native heap unavailable: %v", err))
	}
	id, err := h.ReadU64(uint32(p))
	if err != nil || id == 0 {
		panic(errors.BridgeInternal("corrupt carrier at 0x%x", p))
	}
	return registry.ID(id)
}

func freeCarrier(p native.Pointer) {
	h, err := native.Default()
	if err != nil {
		panic(errors.BridgeInternal("native heap unavailable: %v", err))
	}
	if err := h.Release(p); err != nil {
		panic(errors.BridgeInternal("free carrier 0x%x: %v", p, err))
	}
}

// NewFunction creates a script function that calls fn. The closure stays
// registered until the engine finalizes the function object.
func (c *Context) NewFunction(name string, fn Func) (*Value, error) {
	if fn == nil {
		return nil, errors.InvalidInput(errors.PhaseCallback, "nil function")
	}
	if err := c.enter(errors.PhaseCallback); err != nil {
		return nil, err
	}
	cls, _ := classes()

	id := callbacks.Insert(&callbackRecord{ctx: c, fn: fn, name: name})
	carrier, err := newCarrier(id)
	if err != nil {
		callbacks.Remove(id)
		return nil, errors.Wrap(errors.PhaseCallback, errors.KindOutOfMemory, err, "allocate carrier")
	}
	obj := engine.ObjectMake(c.ref, cls, carrier)
	fv := c.wrap(engine.ValueRef(obj))

	if err := fv.Define("name", name, engine.AttributeReadOnly|engine.AttributeDontEnum); err != nil {
		fv.Release()
		return nil, err
	}
	return fv, nil
}

// record recovers the closure behind a host function object.
func record(ctx engine.ContextRef, fn engine.ObjectRef) *callbackRecord {
	id := carrierID(engine.ObjectGetPrivate(ctx, fn))
	rec, ok := callbacks.Lookup(id)
	if !ok {
		panic(errors.BridgeInternal("callback %d is not registered", id))
	}
	if rec.ctx.ref != ctx {
		panic(errors.BridgeInternal("callback %d belongs to context %d, called from %d", id, rec.ctx.ref, ctx))
	}
	return rec
}

// invoke runs the closure and converts its outcome for the engine. The
// returned handle is valid until the engine reads it.
func (c *Context) invoke(rec *callbackRecord, this *Value, args []*Value, exception *engine.ValueRef) engine.ValueRef {
	res, err := rec.fn(c, this, args)

	var ret engine.ValueRef
	if res != nil {
		if c.owns(errors.PhaseCallback, res) == nil {
			ret = res.consume()
		} else {
			res.Release()
			if err == nil {
				err = errors.InvalidInput(errors.PhaseCallback, "function returned a value of another context")
			}
		}
	}
	this.Release()
	releaseAll(args)

	if c.st.closed.Load() {
		// closed from inside the callback; the engine rejects further calls
		return 0
	}
	if err != nil {
		*exception = c.throw(err)
		return 0
	}
	return ret
}

func callFunction(ctx engine.ContextRef, fn, this engine.ObjectRef, argc int, argv native.Pointer, exception *engine.ValueRef) engine.ValueRef {
	rec := record(ctx, fn)
	c := rec.ctx

	thisRef := engine.ValueRef(this)
	if thisRef == 0 {
		thisRef = engine.ValueMakeUndefined(ctx)
	}
	return c.invoke(rec, c.wrap(thisRef), c.arguments(argc, argv), exception)
}

// constructFunction gives the closure a fresh this whose prototype is the
// constructor's prototype property. An object returned by the closure
// replaces this and gets the same prototype.
func constructFunction(ctx engine.ContextRef, ctor engine.ObjectRef, argc int, argv native.Pointer, exception *engine.ValueRef) engine.ObjectRef {
	rec := record(ctx, ctor)
	c := rec.ctx

	proto := prototypeOf(ctx, ctor)
	this := engine.ObjectMake(ctx, 0, native.Null)
	if proto != 0 {
		engine.ObjectSetPrototype(ctx, this, proto)
	}

	ret := c.invoke(rec, c.wrap(engine.ValueRef(this)), c.arguments(argc, argv), exception)
	if *exception != 0 || c.st.closed.Load() {
		return 0
	}
	if ret == 0 || !engine.ValueIsObject(ctx, ret) {
		return this
	}
	if proto != 0 {
		engine.ObjectSetPrototype(ctx, engine.ObjectRef(ret), proto)
	}
	return engine.ObjectRef(ret)
}

// prototypeOf reads ctor.prototype, or returns 0 if it is not an object.
func prototypeOf(ctx engine.ContextRef, ctor engine.ObjectRef) engine.ValueRef {
	key := engine.StringCreate("prototype")
	if key == 0 {
		return 0
	}
	defer engine.StringRelease(key)
	var exc engine.ValueRef
	p := engine.ObjectGetProperty(ctx, ctor, key, &exc)
	if exc != 0 || !engine.ValueIsObject(ctx, p) {
		return 0
	}
	return p
}

// hasInstance walks the candidate's prototype chain looking for the
// constructor's prototype object.
func hasInstance(ctx engine.ContextRef, ctor engine.ObjectRef, candidate engine.ValueRef, exception *engine.ValueRef) bool {
	if !engine.ValueIsObject(ctx, candidate) {
		return false
	}
	proto := prototypeOf(ctx, ctor)
	if proto == 0 {
		return false
	}
	p := engine.ObjectGetPrototype(ctx, engine.ObjectRef(candidate))
	for engine.ValueIsObject(ctx, p) {
		if engine.ValueIsStrictEqual(ctx, p, proto) {
			return true
		}
		p = engine.ObjectGetPrototype(ctx, engine.ObjectRef(p))
	}
	return false
}

// finalizeFunction is the only place a callback record is removed. It may
// run on the collector's cleanup goroutine.
func finalizeFunction(private native.Pointer) {
	id := carrierID(private)
	rec, ok := callbacks.Remove(id)
	if !ok {
		panic(errors.BridgeInternal("finalize of unregistered callback %d", id))
	}
	freeCarrier(private)
	Logger().Debug("host function finalized",
		zap.Uint64("id", uint64(id)),
		zap.String("name", rec.name))
}
