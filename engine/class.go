package engine

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wippyai/jsbridge/errors"
	"github.com/wippyai/jsbridge/native"
	"github.com/wippyai/jsbridge/registry"
)

var classes = registry.New[*class]("classes")

func init() {
	registry.Register(classes)
}

type class struct {
	def  ClassDefinition
	ref  ClassRef
	refs atomic.Int32
}

func (cls *class) name() string {
	if cls.def.ClassName != "" {
		return cls.def.ClassName
	}
	return "host object"
}

// ClassCreate registers a class with refcount 1.
// Objects keep their class alive after ClassRelease.
func ClassCreate(def *ClassDefinition) ClassRef {
	if def == nil {
		panic(errors.BridgeInternal("nil class definition"))
	}
	cls := &class{def: *def}
	cls.refs.Store(1)
	cls.ref = ClassRef(classes.Insert(cls))
	Logger().Debug("class created", zap.String("class", cls.name()), zap.Uint64("ref", uint64(cls.ref)))
	return cls.ref
}

// ClassRetain increments the class refcount.
func ClassRetain(ref ClassRef) ClassRef {
	lookupClass(ref).refs.Add(1)
	return ref
}

// ClassRelease decrements the class refcount and unregisters it at zero.
func ClassRelease(ref ClassRef) {
	cls := lookupClass(ref)
	if cls.refs.Add(-1) == 0 {
		classes.Remove(registry.ID(ref))
	}
}

func lookupClass(ref ClassRef) *class {
	cls, ok := classes.Lookup(registry.ID(ref))
	if !ok {
		panic(errors.BridgeInternal("class %d is not live", ref))
	}
	return cls
}

// hostTable maps live host objects to their records. Finalizers delete
// from it on the cleanup goroutine.
type hostTable struct {
	m  map[weak.Pointer[goja.Object]]*hostObject
	mu sync.Mutex
}

func newHostTable() *hostTable {
	return &hostTable{m: make(map[weak.Pointer[goja.Object]]*hostObject)}
}

func (t *hostTable) get(o *goja.Object) *hostObject {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m[weak.Make(o)]
}

func (t *hostTable) snapshot() []*hostObject {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*hostObject, 0, len(t.m))
	for _, ho := range t.m {
		out = append(out, ho)
	}
	return out
}

func (t *hostTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}

// hostObject is the engine-side record of an object made from a class.
// Nothing reachable from it may lead back to the object, or the cleanup
// that finalizes it would never run.
type hostObject struct {
	class   *class
	table   *hostTable
	key     weak.Pointer[goja.Object]
	private native.Pointer
	done    atomic.Bool
}

// finalize runs at most once, from the cleanup goroutine or from context release.
func (ho *hostObject) finalize() {
	if !ho.done.CompareAndSwap(false, true) {
		return
	}
	ho.table.mu.Lock()
	delete(ho.table.m, ho.key)
	ho.table.mu.Unlock()

	if f := ho.class.def.Finalize; f != nil {
		Logger().Debug("finalize",
			zap.String("class", ho.class.name()),
			zap.Uint32("private", uint32(ho.private)))
		f(ho.private)
	}
}

func (c *globalContext) makeHostObject(cls *class, private native.Pointer) *goja.Object {
	ho := &hostObject{class: cls, table: c.hosts, private: private}

	var obj *goja.Object
	if cls.def.CallAsFunction != nil || cls.def.CallAsConstructor != nil {
		obj = c.makeHostFunction(ho)
	} else {
		obj = c.vm.NewObject()
	}

	if cls.def.HasInstance != nil {
		fn := c.vm.ToValue(func(fc goja.FunctionCall) goja.Value {
			return c.dispatchHasInstance(ho, fc.This, fc.Argument(0))
		})
		if err := obj.DefineDataPropertySymbol(goja.SymHasInstance, fn, goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
			panic(errors.BridgeInternal("install hasInstance: %v", err))
		}
	}
	if cls.def.ConvertToType != nil {
		fn := c.vm.ToValue(func(fc goja.FunctionCall) goja.Value {
			return c.dispatchConvert(ho, fc.This, fc.Argument(0).String())
		})
		if err := obj.DefineDataPropertySymbol(goja.SymToPrimitive, fn, goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
			panic(errors.BridgeInternal("install toPrimitive: %v", err))
		}
	}

	ho.key = weak.Make(obj)
	c.hosts.mu.Lock()
	c.hosts.m[ho.key] = ho
	c.hosts.mu.Unlock()
	runtime.AddCleanup(obj, func(ho *hostObject) { ho.finalize() }, ho)

	if initialize := cls.def.Initialize; initialize != nil {
		c.withFrame(func() {
			initialize(c.ref, ObjectRef(c.newHandle(obj)))
		})
	}
	return obj
}

func (c *globalContext) makeHostFunction(ho *hostObject) *goja.Object {
	call := c.vm.ToValue(func(fc goja.FunctionCall) goja.Value {
		return c.dispatchCall(ho, fc)
	})
	construct := c.vm.ToValue(func(fc goja.FunctionCall) goja.Value {
		return c.dispatchConstruct(ho, fc)
	})
	v, err := c.in.factory(goja.Undefined(), call, construct)
	if err != nil {
		panic(errors.BridgeInternal("host function factory: %v", err))
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		panic(errors.BridgeInternal("host function factory returned %s", v))
	}
	if name := ho.class.def.ClassName; name != "" {
		if err := obj.DefineDataProperty("name", c.vm.ToValue(name), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
			panic(errors.BridgeInternal("name host function %s: %v", name, err))
		}
	}
	return obj
}

// arguments unpacks the arguments object forwarded by the factory wrapper.
func arguments(v goja.Value) []goja.Value {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	n := int(obj.Get("length").ToInteger())
	out := make([]goja.Value, n)
	for i := range out {
		out[i] = obj.Get(strconv.Itoa(i))
		if out[i] == nil {
			out[i] = goja.Undefined()
		}
	}
	return out
}

func (c *globalContext) checkLive() {
	if c.released {
		panic(c.newError(c.in.errorCtor, "context %d has been released", c.ref))
	}
}

func (c *globalContext) dispatchCall(ho *hostObject, fc goja.FunctionCall) goja.Value {
	c.checkLive()
	hook := ho.class.def.CallAsFunction
	if hook == nil {
		panic(c.typeErrorf("%s cannot be called without 'new'", ho.class.name()))
	}
	fn, ok := fc.Argument(0).(*goja.Object)
	if !ok {
		panic(errors.BridgeInternal("host function wrapper lost its callee"))
	}
	this := fc.Argument(1)
	args := arguments(fc.Argument(2))

	var result goja.Value
	c.withFrame(func() {
		fnRef := c.newHandle(fn)
		var thisRef ValueRef
		if !goja.IsUndefined(this) && !goja.IsNull(this) {
			thisRef = c.newHandle(this.ToObject(c.vm))
		}
		argv := c.marshalArgs(args)
		defer c.freeArgs(argv)

		var exc ValueRef
		ret := hook(c.ref, ObjectRef(fnRef), ObjectRef(thisRef), len(args), argv, &exc)
		if exc != 0 {
			panic(c.value(exc))
		}
		result = c.value(ret)
	})
	return result
}

func (c *globalContext) dispatchConstruct(ho *hostObject, fc goja.FunctionCall) goja.Value {
	c.checkLive()
	hook := ho.class.def.CallAsConstructor
	if hook == nil {
		panic(c.typeErrorf("%s is not a constructor", ho.class.name()))
	}
	fn, ok := fc.Argument(0).(*goja.Object)
	if !ok {
		panic(errors.BridgeInternal("host function wrapper lost its callee"))
	}
	args := arguments(fc.Argument(2))

	var result goja.Value
	c.withFrame(func() {
		fnRef := c.newHandle(fn)
		argv := c.marshalArgs(args)
		defer c.freeArgs(argv)

		var exc ValueRef
		ret := hook(c.ref, ObjectRef(fnRef), len(args), argv, &exc)
		if exc != 0 {
			panic(c.value(exc))
		}
		obj, ok := c.value(ValueRef(ret)).(*goja.Object)
		if !ok {
			panic(c.typeErrorf("%s constructor did not return an object", ho.class.name()))
		}
		result = obj
	})
	return result
}

func (c *globalContext) dispatchHasInstance(ho *hostObject, ctor, candidate goja.Value) goja.Value {
	c.checkLive()
	ctorObj, ok := ctor.(*goja.Object)
	if !ok {
		return c.vm.ToValue(false)
	}
	var result bool
	c.withFrame(func() {
		ctorRef := c.newHandle(ctorObj)
		candRef := c.newHandle(candidate)
		var exc ValueRef
		result = ho.class.def.HasInstance(c.ref, ObjectRef(ctorRef), candRef, &exc)
		if exc != 0 {
			panic(c.value(exc))
		}
	})
	return c.vm.ToValue(result)
}

func (c *globalContext) dispatchConvert(ho *hostObject, this goja.Value, hint string) goja.Value {
	c.checkLive()
	obj, ok := this.(*goja.Object)
	if !ok {
		panic(c.typeErrorf("cannot convert a non-object to a primitive"))
	}
	typ := TypeString
	if hint == "number" {
		typ = TypeNumber
	}

	var result goja.Value
	c.withFrame(func() {
		var exc ValueRef
		ret := ho.class.def.ConvertToType(c.ref, ObjectRef(c.newHandle(obj)), typ, &exc)
		if exc != 0 {
			panic(c.value(exc))
		}
		if ret != 0 {
			result = c.value(ret)
		}
	})
	if result == nil {
		result = c.ordinaryToPrimitive(obj, hint)
	}
	if _, isObj := result.(*goja.Object); isObj {
		panic(c.typeErrorf("%s converted to an object", ho.class.name()))
	}
	return result
}

func (c *globalContext) ordinaryToPrimitive(obj *goja.Object, hint string) goja.Value {
	order := [2]string{"valueOf", "toString"}
	if hint == "string" {
		order = [2]string{"toString", "valueOf"}
	}
	for _, name := range order {
		fn, ok := goja.AssertFunction(obj.Get(name))
		if !ok {
			continue
		}
		v, err := fn(obj)
		if err != nil {
			c.rethrow(err)
		}
		if _, isObj := v.(*goja.Object); !isObj {
			return v
		}
	}
	panic(c.typeErrorf("cannot convert object to primitive value"))
}

// marshalArgs writes fresh handles for args into a native argv block.
func (c *globalContext) marshalArgs(args []goja.Value) native.Pointer {
	if len(args) == 0 {
		return native.Null
	}
	h := nativeHeap()
	argv, err := h.Allocate(uint32(len(args) * native.PointerWidth))
	if err != nil {
		panic(c.newError(c.in.rangeError, "out of native memory for %d arguments", len(args)))
	}
	for i, a := range args {
		if err := h.WriteU64(uint32(argv)+uint32(i*native.PointerWidth), uint64(c.newHandle(a))); err != nil {
			_ = h.Release(argv)
			panic(errors.BridgeInternal("write argv[%d]: %v", i, err))
		}
	}
	return argv
}

func (c *globalContext) freeArgs(argv native.Pointer) {
	if argv == native.Null {
		return
	}
	if err := nativeHeap().Release(argv); err != nil {
		panic(errors.BridgeInternal("free argv: %v", err))
	}
}

// readArgs resolves argc handles from a native argv block.
func (c *globalContext) readArgs(argc int, argv native.Pointer) []goja.Value {
	if argc <= 0 {
		return nil
	}
	if argv == native.Null {
		panic(errors.BridgeInternal("argc %d with NULL argv", argc))
	}
	h := nativeHeap()
	out := make([]goja.Value, argc)
	for i := range out {
		ref, err := h.ReadU64(uint32(argv) + uint32(i*native.PointerWidth))
		if err != nil {
			panic(errors.BridgeInternal("read argv[%d]: %v", i, err))
		}
		out[i] = c.value(ValueRef(ref))
	}
	return out
}
