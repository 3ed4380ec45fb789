package engine

import (
	"math"
	"strings"

	"github.com/dop251/goja"
)

// ValueMakeUndefined returns undefined.
func ValueMakeUndefined(ctx ContextRef) ValueRef {
	return lookup(ctx).newHandle(goja.Undefined())
}

// ValueMakeNull returns null.
func ValueMakeNull(ctx ContextRef) ValueRef {
	return lookup(ctx).newHandle(goja.Null())
}

// ValueMakeBoolean returns a boolean.
func ValueMakeBoolean(ctx ContextRef, b bool) ValueRef {
	c := lookup(ctx)
	return c.newHandle(c.vm.ToValue(b))
}

// ValueMakeNumber returns a number.
func ValueMakeNumber(ctx ContextRef, f float64) ValueRef {
	c := lookup(ctx)
	return c.newHandle(c.vm.ToValue(f))
}

// ValueMakeString returns a string with the contents of str.
func ValueMakeString(ctx ContextRef, str StringRef) ValueRef {
	c := lookup(ctx)
	return c.newHandle(c.vm.ToValue(mustString(str)))
}

// ValueMakeSymbol returns a new symbol with the given description.
func ValueMakeSymbol(ctx ContextRef, description StringRef) ValueRef {
	c := lookup(ctx)
	return c.newHandle(goja.NewSymbol(mustString(description)))
}

// ValueMakeBigInt returns the bigint written in decimal by digits.
func ValueMakeBigInt(ctx ContextRef, digits StringRef, exception *ValueRef) ValueRef {
	c := lookup(ctx)
	v, err := c.in.bigint(goja.Undefined(), c.vm.ToValue(mustString(digits)))
	if err != nil {
		c.setException(exception, c.thrown(err))
		return 0
	}
	return c.newHandle(v)
}

// ValueMakeFromJSONString parses str as JSON. It returns NULL if str is not valid JSON.
func ValueMakeFromJSONString(ctx ContextRef, str StringRef) ValueRef {
	c := lookup(ctx)
	v, err := c.in.parse(goja.Undefined(), c.vm.ToValue(mustString(str)))
	if err != nil {
		return 0
	}
	return c.newHandle(v)
}

// ValueCreateJSONString serializes v with indent spaces per level (at most
// 10). It returns NULL for values JSON cannot represent, such as
// undefined and functions.
func ValueCreateJSONString(ctx ContextRef, v ValueRef, indent uint, exception *ValueRef) StringRef {
	c := lookup(ctx)
	args := []goja.Value{c.value(v), goja.Undefined()}
	if indent > 0 {
		args = append(args, c.vm.ToValue(strings.Repeat(" ", int(min(indent, 10)))))
	}
	res, err := c.in.stringify(goja.Undefined(), args...)
	if err != nil {
		c.setException(exception, c.thrown(err))
		return 0
	}
	if goja.IsUndefined(res) {
		return 0
	}
	return StringCreate(res.String())
}

func typeOf(v goja.Value) ValueType {
	switch v.(type) {
	case *goja.Object:
		return TypeObject
	case *goja.Symbol:
		return TypeSymbol
	}
	switch {
	case v == nil || goja.IsUndefined(v):
		return TypeUndefined
	case goja.IsNull(v):
		return TypeNull
	case goja.IsString(v):
		return TypeString
	case goja.IsNumber(v):
		return TypeNumber
	case goja.IsBigInt(v):
		return TypeBigInt
	}
	return TypeBoolean
}

// ValueGetType returns the type of v.
func ValueGetType(ctx ContextRef, v ValueRef) ValueType {
	return typeOf(lookup(ctx).value(v))
}

// ValueIsUndefined reports whether v is undefined.
func ValueIsUndefined(ctx ContextRef, v ValueRef) bool { return ValueGetType(ctx, v) == TypeUndefined }

// ValueIsNull reports whether v is null.
func ValueIsNull(ctx ContextRef, v ValueRef) bool { return ValueGetType(ctx, v) == TypeNull }

// ValueIsBoolean reports whether v is a boolean.
func ValueIsBoolean(ctx ContextRef, v ValueRef) bool { return ValueGetType(ctx, v) == TypeBoolean }

// ValueIsNumber reports whether v is a number.
func ValueIsNumber(ctx ContextRef, v ValueRef) bool { return ValueGetType(ctx, v) == TypeNumber }

// ValueIsString reports whether v is a string.
func ValueIsString(ctx ContextRef, v ValueRef) bool { return ValueGetType(ctx, v) == TypeString }

// ValueIsObject reports whether v is an object.
func ValueIsObject(ctx ContextRef, v ValueRef) bool { return ValueGetType(ctx, v) == TypeObject }

// ValueIsSymbol reports whether v is a symbol.
func ValueIsSymbol(ctx ContextRef, v ValueRef) bool { return ValueGetType(ctx, v) == TypeSymbol }

// ValueIsBigInt reports whether v is a BigInt.
func ValueIsBigInt(ctx ContextRef, v ValueRef) bool { return ValueGetType(ctx, v) == TypeBigInt }

func className(c *globalContext, v ValueRef) string {
	if o, ok := c.value(v).(*goja.Object); ok {
		return o.ClassName()
	}
	return ""
}

// ValueIsArray reports whether v is an Array.
func ValueIsArray(ctx ContextRef, v ValueRef) bool {
	return className(lookup(ctx), v) == "Array"
}

// ValueIsDate reports whether v is a Date.
func ValueIsDate(ctx ContextRef, v ValueRef) bool {
	return className(lookup(ctx), v) == "Date"
}

// ValueIsObjectOfClass reports whether v was made from class.
func ValueIsObjectOfClass(ctx ContextRef, v ValueRef, class ClassRef) bool {
	c := lookup(ctx)
	o, ok := c.value(v).(*goja.Object)
	if !ok || class == 0 {
		return false
	}
	ho := c.hosts.get(o)
	return ho != nil && ho.class.ref == class
}

// ValueIsEqual compares with ==.
func ValueIsEqual(ctx ContextRef, a, b ValueRef, exception *ValueRef) bool {
	c := lookup(ctx)
	va, vb := c.value(a), c.value(b)
	var eq bool
	if ex := c.vm.Try(func() { eq = va.Equals(vb) }); ex != nil {
		c.setException(exception, ex.Value())
		return false
	}
	return eq
}

// ValueIsStrictEqual compares with ===.
func ValueIsStrictEqual(ctx ContextRef, a, b ValueRef) bool {
	c := lookup(ctx)
	return c.value(a).StrictEquals(c.value(b))
}

// ValueIsInstanceOfConstructor evaluates v instanceof constructor.
func ValueIsInstanceOfConstructor(ctx ContextRef, v ValueRef, constructor ObjectRef, exception *ValueRef) bool {
	c := lookup(ctx)
	val, ctor := c.value(v), c.object(constructor)
	var res bool
	if ex := c.vm.Try(func() { res = c.vm.InstanceOf(val, ctor) }); ex != nil {
		c.setException(exception, ex.Value())
		return false
	}
	return res
}

// ValueToBoolean converts with ToBoolean. It never throws.
func ValueToBoolean(ctx ContextRef, v ValueRef) bool {
	return lookup(ctx).value(v).ToBoolean()
}

// ValueToNumber converts with ToNumber. It returns NaN on exception.
func ValueToNumber(ctx ContextRef, v ValueRef, exception *ValueRef) float64 {
	c := lookup(ctx)
	val := c.value(v)
	var f float64
	if ex := c.vm.Try(func() { f = val.ToNumber().ToFloat() }); ex != nil {
		c.setException(exception, ex.Value())
		return math.NaN()
	}
	return f
}

// ValueToStringCopy converts with ToString into a new native string the
// caller must release. It returns NULL on exception.
func ValueToStringCopy(ctx ContextRef, v ValueRef, exception *ValueRef) StringRef {
	c := lookup(ctx)
	val := c.value(v)
	var s string
	if ex := c.vm.Try(func() { s = val.String() }); ex != nil {
		c.setException(exception, ex.Value())
		return 0
	}
	return StringCreate(s)
}

// ValueToObject converts with ToObject. It throws for null and undefined.
func ValueToObject(ctx ContextRef, v ValueRef, exception *ValueRef) ObjectRef {
	c := lookup(ctx)
	val := c.value(v)
	var o *goja.Object
	if ex := c.vm.Try(func() { o = val.ToObject(c.vm) }); ex != nil {
		c.setException(exception, ex.Value())
		return 0
	}
	return ObjectRef(c.newHandle(o))
}

// ValueProtect adds a GC root for v.
func ValueProtect(ctx ContextRef, v ValueRef) {
	lookup(ctx).protect(v)
}

// ValueUnprotect removes a GC root added by ValueProtect.
func ValueUnprotect(ctx ContextRef, v ValueRef) {
	lookup(ctx).unprotect(v)
}
