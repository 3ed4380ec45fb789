package engine

import (
	"strconv"

	"github.com/dop251/goja"

	"github.com/wippyai/jsbridge/errors"
	"github.com/wippyai/jsbridge/native"
)

// ObjectMake creates an object. A NULL class makes a plain object and
// ignores private. Objects of classes with a call or construct hook are
// functions.
func ObjectMake(ctx ContextRef, class ClassRef, private native.Pointer) ObjectRef {
	c := lookup(ctx)
	if class == 0 {
		return ObjectRef(c.newHandle(c.vm.NewObject()))
	}
	return ObjectRef(c.newHandle(c.makeHostObject(lookupClass(class), private)))
}

// ObjectMakeFunctionWithCallback creates a function that dispatches to cb.
func ObjectMakeFunctionWithCallback(ctx ContextRef, name StringRef, cb CallAsFunctionCallback) ObjectRef {
	c := lookup(ctx)
	cls := &class{def: ClassDefinition{ClassName: mustString(name), CallAsFunction: cb}}
	return ObjectRef(c.newHandle(c.makeHostObject(cls, native.Null)))
}

// ObjectMakeArray creates an array from argv.
func ObjectMakeArray(ctx ContextRef, argc int, argv native.Pointer, exception *ValueRef) ObjectRef {
	c := lookup(ctx)
	args := c.readArgs(argc, argv)
	items := make([]any, len(args))
	for i, a := range args {
		items[i] = a
	}
	return ObjectRef(c.newHandle(c.vm.NewArray(items...)))
}

// ObjectMakeError constructs Error with argv.
func ObjectMakeError(ctx ContextRef, argc int, argv native.Pointer, exception *ValueRef) ObjectRef {
	c := lookup(ctx)
	o, err := c.vm.New(c.in.errorCtor, c.readArgs(argc, argv)...)
	if err != nil {
		c.setException(exception, c.thrown(err))
		return 0
	}
	return ObjectRef(c.newHandle(o))
}

// ObjectMakeDate constructs Date with argv.
func ObjectMakeDate(ctx ContextRef, argc int, argv native.Pointer, exception *ValueRef) ObjectRef {
	c := lookup(ctx)
	o, err := c.vm.New(c.in.dateCtor, c.readArgs(argc, argv)...)
	if err != nil {
		c.setException(exception, c.thrown(err))
		return 0
	}
	return ObjectRef(c.newHandle(o))
}

// ObjectGetPrivate returns the private pointer given to ObjectMake, or
// NULL for objects that were not made from a class.
func ObjectGetPrivate(ctx ContextRef, object ObjectRef) native.Pointer {
	c := lookup(ctx)
	if ho := c.hosts.get(c.object(object)); ho != nil {
		return ho.private
	}
	return native.Null
}

func (c *globalContext) get(o *goja.Object, key string, exception *ValueRef) ValueRef {
	var v goja.Value
	if ex := c.vm.Try(func() { v = o.Get(key) }); ex != nil {
		c.setException(exception, ex.Value())
		return 0
	}
	return c.newHandle(v)
}

func (c *globalContext) set(o *goja.Object, key string, v goja.Value, attrs PropertyAttributes, exception *ValueRef) {
	var err error
	if attrs == AttributeNone {
		err = o.Set(key, v)
	} else {
		err = o.DefineDataProperty(key, v,
			flag(attrs&AttributeReadOnly == 0),
			flag(attrs&AttributeDontDelete == 0),
			flag(attrs&AttributeDontEnum == 0))
	}
	if err != nil {
		c.setException(exception, c.thrown(err))
	}
}

func flag(b bool) goja.Flag {
	if b {
		return goja.FLAG_TRUE
	}
	return goja.FLAG_FALSE
}

// ObjectGetProperty reads a property. Missing properties read as undefined.
func ObjectGetProperty(ctx ContextRef, object ObjectRef, name StringRef, exception *ValueRef) ValueRef {
	c := lookup(ctx)
	return c.get(c.object(object), mustString(name), exception)
}

// ObjectSetProperty assigns a property, or defines it when attrs is not AttributeNone.
func ObjectSetProperty(ctx ContextRef, object ObjectRef, name StringRef, value ValueRef, attrs PropertyAttributes, exception *ValueRef) {
	c := lookup(ctx)
	c.set(c.object(object), mustString(name), c.value(value), attrs, exception)
}

// ObjectGetPropertyAtIndex reads an indexed property.
func ObjectGetPropertyAtIndex(ctx ContextRef, object ObjectRef, index uint32, exception *ValueRef) ValueRef {
	c := lookup(ctx)
	return c.get(c.object(object), strconv.FormatUint(uint64(index), 10), exception)
}

// ObjectSetPropertyAtIndex assigns an indexed property.
func ObjectSetPropertyAtIndex(ctx ContextRef, object ObjectRef, index uint32, value ValueRef, exception *ValueRef) {
	c := lookup(ctx)
	c.set(c.object(object), strconv.FormatUint(uint64(index), 10), c.value(value), AttributeNone, exception)
}

// ObjectHasProperty reports whether name is in object or its prototype chain.
func ObjectHasProperty(ctx ContextRef, object ObjectRef, name StringRef) bool {
	c := lookup(ctx)
	v, err := c.in.has(goja.Undefined(), c.object(object), c.vm.ToValue(mustString(name)))
	if err != nil {
		return false
	}
	return v.ToBoolean()
}

// ObjectDeleteProperty deletes an own property. It returns false if the
// property is non-configurable.
func ObjectDeleteProperty(ctx ContextRef, object ObjectRef, name StringRef, exception *ValueRef) bool {
	c := lookup(ctx)
	v, err := c.in.deleteProperty(goja.Undefined(), c.object(object), c.vm.ToValue(mustString(name)))
	if err != nil {
		c.setException(exception, c.thrown(err))
		return false
	}
	return v.ToBoolean()
}

// ObjectGetPrototype returns the prototype, or null.
func ObjectGetPrototype(ctx ContextRef, object ObjectRef) ValueRef {
	c := lookup(ctx)
	if p := c.object(object).Prototype(); p != nil {
		return c.newHandle(p)
	}
	return c.newHandle(goja.Null())
}

// ObjectSetPrototype sets the prototype to an object or null. Other values
// and rejected changes are ignored.
func ObjectSetPrototype(ctx ContextRef, object ObjectRef, proto ValueRef) {
	c := lookup(ctx)
	o := c.object(object)
	switch p := c.value(proto).(type) {
	case *goja.Object:
		_ = o.SetPrototype(p)
	default:
		if goja.IsNull(p) {
			_ = o.SetPrototype(nil)
		}
	}
}

// ObjectIsFunction reports whether object is callable.
func ObjectIsFunction(ctx ContextRef, object ObjectRef) bool {
	c := lookup(ctx)
	_, ok := goja.AssertFunction(c.object(object))
	return ok
}

// ObjectIsConstructor reports whether object can be used with new.
func ObjectIsConstructor(ctx ContextRef, object ObjectRef) bool {
	c := lookup(ctx)
	_, ok := goja.AssertConstructor(c.object(object))
	return ok
}

// ObjectCallAsFunction calls object with argc handles from argv. A NULL
// this calls with an undefined receiver.
func ObjectCallAsFunction(ctx ContextRef, object, this ObjectRef, argc int, argv native.Pointer, exception *ValueRef) ValueRef {
	c := lookup(ctx)
	fn, ok := goja.AssertFunction(c.object(object))
	if !ok {
		c.setException(exception, c.typeErrorf("value is not a function"))
		return 0
	}
	args := c.readArgs(argc, argv)
	res, err := fn(c.value(ValueRef(this)), args...)
	if err != nil {
		c.setException(exception, c.thrown(err))
		return 0
	}
	return c.newHandle(res)
}

// ObjectCallAsConstructor calls object with new.
func ObjectCallAsConstructor(ctx ContextRef, object ObjectRef, argc int, argv native.Pointer, exception *ValueRef) ObjectRef {
	c := lookup(ctx)
	ctor, ok := goja.AssertConstructor(c.object(object))
	if !ok {
		c.setException(exception, c.typeErrorf("value is not a constructor"))
		return 0
	}
	args := c.readArgs(argc, argv)
	res, err := ctor(nil, args...)
	if err != nil {
		c.setException(exception, c.thrown(err))
		return 0
	}
	return ObjectRef(c.newHandle(res))
}

const nameArrayHeader = 8

// ObjectCopyPropertyNames returns the own enumerable string keys of
// object with refcount 1. A throwing proxy yields an empty array.
func ObjectCopyPropertyNames(ctx ContextRef, object ObjectRef) PropertyNameArrayRef {
	c := lookup(ctx)
	o := c.object(object)
	var keys []string
	if ex := c.vm.Try(func() { keys = o.Keys() }); ex != nil {
		keys = nil
	}

	h := nativeHeap()
	p, err := h.Allocate(uint32(nameArrayHeader + len(keys)*native.PointerWidth))
	if err != nil {
		panic(errors.BridgeInternal("allocate property name array: %v", err))
	}
	base := uint32(p)
	_ = h.WriteU32(base, 1)
	_ = h.WriteU32(base+4, uint32(len(keys)))
	for i, k := range keys {
		s := StringCreate(k)
		if s == 0 {
			panic(errors.BridgeInternal("allocate property name %q", k))
		}
		_ = h.WriteU64(base+nameArrayHeader+uint32(i*native.PointerWidth), uint64(s))
	}
	return PropertyNameArrayRef(p)
}

// PropertyNameArrayGetCount returns the number of names.
func PropertyNameArrayGetCount(arr PropertyNameArrayRef) int {
	n, err := nativeHeap().ReadU32(uint32(arr) + 4)
	if err != nil {
		panic(errors.BridgeInternal("read property name array: %v", err))
	}
	return int(n)
}

// PropertyNameArrayGetNameAtIndex returns the name at index. The array owns it.
func PropertyNameArrayGetNameAtIndex(arr PropertyNameArrayRef, index int) StringRef {
	if index < 0 || index >= PropertyNameArrayGetCount(arr) {
		panic(errors.BridgeInternal("property name index %d out of range", index))
	}
	v, err := nativeHeap().ReadU64(uint32(arr) + nameArrayHeader + uint32(index*native.PointerWidth))
	if err != nil {
		panic(errors.BridgeInternal("read property name: %v", err))
	}
	return StringRef(v)
}

// PropertyNameArrayRetain increments the refcount.
func PropertyNameArrayRetain(arr PropertyNameArrayRef) PropertyNameArrayRef {
	h := nativeHeap()
	stringMu.Lock()
	defer stringMu.Unlock()
	n, _ := h.ReadU32(uint32(arr))
	_ = h.WriteU32(uint32(arr), n+1)
	return arr
}

// PropertyNameArrayRelease decrements the refcount and frees the array and
// its names at zero.
func PropertyNameArrayRelease(arr PropertyNameArrayRef) {
	if arr == 0 {
		return
	}
	h := nativeHeap()
	stringMu.Lock()
	n, err := h.ReadU32(uint32(arr))
	if err != nil || n == 0 {
		stringMu.Unlock()
		panic(errors.BridgeInternal("release of dead property name array 0x%x", arr))
	}
	if n > 1 {
		_ = h.WriteU32(uint32(arr), n-1)
		stringMu.Unlock()
		return
	}
	_ = h.WriteU32(uint32(arr), 0)
	stringMu.Unlock()

	count := PropertyNameArrayGetCount(arr)
	for i := 0; i < count; i++ {
		v, _ := h.ReadU64(uint32(arr) + nameArrayHeader + uint32(i*native.PointerWidth))
		StringRelease(StringRef(v))
	}
	if err := h.Release(native.Pointer(arr)); err != nil {
		panic(errors.BridgeInternal("free property name array: %v", err))
	}
}
