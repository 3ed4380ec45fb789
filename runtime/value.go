package runtime

import (
	"math"
	goruntime "runtime"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/jsbridge/engine"
	"github.com/wippyai/jsbridge/errors"
	"github.com/wippyai/jsbridge/native"
)

// Value is a protected reference to a script value. It keeps its Context
// alive and must be released with Release. A Value dropped without
// Release is unprotected on a later call into its Context once the Go
// collector finds it.
type Value struct {
	ctx      *Context
	ref      engine.ValueRef
	released atomic.Bool
	cleanup  goruntime.Cleanup
}

type valueLeak struct {
	st  *state
	ref engine.ValueRef
}

func releaseLeaked(l valueLeak) {
	if l.st.closed.Load() {
		return
	}
	Logger().Warn("value collected without Release", zap.Uint64("value", uint64(l.ref)))
	l.st.forget(l.ref, true)
}

// wrap protects ref and returns its owning Value. On a closed context the
// Value is inert and holds no protect.
func (c *Context) wrap(ref engine.ValueRef) *Value {
	v := &Value{ctx: c, ref: ref}
	if !c.st.track(ref) {
		v.released.Store(true)
		return v
	}
	engine.ValueProtect(c.ref, ref)
	v.cleanup = goruntime.AddCleanup(v, releaseLeaked, valueLeak{st: c.st, ref: ref})
	return v
}

// Release unprotects the value. Only the first call has an effect.
func (v *Value) Release() {
	if v == nil || !v.released.CompareAndSwap(false, true) {
		return
	}
	v.cleanup.Stop()
	if v.ctx.st.forget(v.ref, false) {
		engine.ValueUnprotect(v.ctx.ref, v.ref)
	}
}

// consume releases the value after the engine has read it. The unprotect
// runs on the next call into the context.
func (v *Value) consume() engine.ValueRef {
	if v == nil || !v.released.CompareAndSwap(false, true) {
		return 0
	}
	v.cleanup.Stop()
	v.ctx.st.forget(v.ref, true)
	return v.ref
}

// Clone returns a separately protected Value for the same script value.
func (v *Value) Clone() *Value {
	if !v.usable() {
		return nil
	}
	return v.ctx.wrap(v.ref)
}

// Context returns the owning context.
func (v *Value) Context() *Context { return v.ctx }

// Ref returns the engine handle.
func (v *Value) Ref() engine.ValueRef { return v.ref }

func (v *Value) usable() bool {
	return v != nil && !v.released.Load() && !v.ctx.st.closed.Load()
}

// use enters the owning context on behalf of a value operation.
func (v *Value) use(phase errors.Phase) error {
	if v == nil {
		return errors.InvalidInput(phase, "nil value")
	}
	if v.released.Load() {
		return errors.Closed(phase, "value")
	}
	return v.ctx.enterFor(phase, v)
}

// Type returns the script type, or undefined for an unusable value.
func (v *Value) Type() engine.ValueType {
	if !v.usable() {
		return engine.TypeUndefined
	}
	return engine.ValueGetType(v.ctx.ref, v.ref)
}

// TypeName returns the typeof-style name of the value.
func (v *Value) TypeName() string {
	if v.IsFunction() {
		return "function"
	}
	return v.Type().String()
}

func (v *Value) IsUndefined() bool { return v.Type() == engine.TypeUndefined }
func (v *Value) IsNull() bool      { return v.Type() == engine.TypeNull }
func (v *Value) IsBoolean() bool   { return v.Type() == engine.TypeBoolean }
func (v *Value) IsNumber() bool    { return v.Type() == engine.TypeNumber }
func (v *Value) IsString() bool    { return v.Type() == engine.TypeString }
func (v *Value) IsObject() bool    { return v.Type() == engine.TypeObject }
func (v *Value) IsSymbol() bool    { return v.Type() == engine.TypeSymbol }
func (v *Value) IsBigInt() bool    { return v.Type() == engine.TypeBigInt }

// IsNullish reports whether the value is null or undefined.
func (v *Value) IsNullish() bool { return v.IsNull() || v.IsUndefined() }

func (v *Value) IsArray() bool {
	return v.usable() && engine.ValueIsArray(v.ctx.ref, v.ref)
}

func (v *Value) IsDate() bool {
	return v.usable() && engine.ValueIsDate(v.ctx.ref, v.ref)
}

func (v *Value) IsFunction() bool {
	return v.IsObject() && engine.ObjectIsFunction(v.ctx.ref, engine.ObjectRef(v.ref))
}

// IsConstructor reports whether the value can be used with new.
func (v *Value) IsConstructor() bool {
	return v.IsObject() && engine.ObjectIsConstructor(v.ctx.ref, engine.ObjectRef(v.ref))
}

// ToBool converts with the script's truthiness rules. It never fails.
func (v *Value) ToBool() bool {
	return v.usable() && engine.ValueToBoolean(v.ctx.ref, v.ref)
}

// ToFloat64 converts with ToNumber.
func (v *Value) ToFloat64() (float64, error) {
	if err := v.use(errors.PhaseConvert); err != nil {
		return math.NaN(), err
	}
	var exc engine.ValueRef
	f := engine.ValueToNumber(v.ctx.ref, v.ref, &exc)
	if err := v.ctx.check(errors.PhaseConvert, exc); err != nil {
		return math.NaN(), err
	}
	return f, nil
}

// ToInt32 converts with the script's ToInt32 wrapping rules.
func (v *Value) ToInt32() (int32, error) {
	u, err := v.ToUint32()
	return int32(u), err
}

// ToUint32 converts with the script's ToUint32 wrapping rules.
func (v *Value) ToUint32() (uint32, error) {
	f, err := v.ToFloat64()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, nil
	}
	m := math.Mod(math.Trunc(f), 1<<32)
	if m < 0 {
		m += 1 << 32
	}
	return uint32(m), nil
}

// ToInt64 truncates toward zero. NaN converts to 0; infinities and
// values outside the int64 range are an error.
func (v *Value) ToInt64() (int64, error) {
	f, err := v.ToFloat64()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) {
		return 0, nil
	}
	t := math.Trunc(f)
	if math.IsInf(t, 0) || t < math.MinInt64 || t >= math.MaxInt64 {
		return 0, errors.New(errors.PhaseConvert, errors.KindTypeMismatch).
			GoType("int64").
			JSType("number").
			Value(f).
			Detail("%v is out of range", f).
			Build()
	}
	return int64(t), nil
}

// ToString converts with ToString.
func (v *Value) ToString() (string, error) {
	if err := v.use(errors.PhaseConvert); err != nil {
		return "", err
	}
	var exc engine.ValueRef
	s := engine.ValueToStringCopy(v.ctx.ref, v.ref, &exc)
	if err := v.ctx.check(errors.PhaseConvert, exc); err != nil {
		return "", err
	}
	if s == 0 {
		return "", errors.OutOfMemory(errors.PhaseConvert, 0)
	}
	defer engine.StringRelease(s)
	return engine.StringCopy(s), nil
}

// String implements fmt.Stringer.
func (v *Value) String() string {
	s, err := v.ToString()
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return s
}

func (v *Value) object(phase errors.Phase, op string) (engine.ObjectRef, error) {
	if err := v.use(phase); err != nil {
		return 0, err
	}
	if engine.ValueGetType(v.ctx.ref, v.ref) != engine.TypeObject {
		return 0, errors.NotAnObject(phase, v.TypeName(), op)
	}
	return engine.ObjectRef(v.ref), nil
}

// Get reads a property. Primitives are boxed first, so "abc".length works;
// null and undefined fail with a TypeError.
func (v *Value) Get(name string) (*Value, error) {
	if err := v.use(errors.PhaseProperty); err != nil {
		return nil, err
	}
	c := v.ctx
	obj := engine.ObjectRef(v.ref)
	if engine.ValueGetType(c.ref, v.ref) != engine.TypeObject {
		var exc engine.ValueRef
		obj = engine.ValueToObject(c.ref, v.ref, &exc)
		if err := c.check(errors.PhaseProperty, exc); err != nil {
			return nil, err
		}
	}
	key, err := newString(name)
	if err != nil {
		return nil, err
	}
	defer engine.StringRelease(key)

	var exc engine.ValueRef
	res := engine.ObjectGetProperty(c.ref, obj, key, &exc)
	if err := c.check(errors.PhaseProperty, exc); err != nil {
		return nil, err
	}
	return c.wrap(res), nil
}

// Set converts x with ValueOf and assigns it to a property.
func (v *Value) Set(name string, x any) error {
	return v.define(name, x, engine.AttributeNone)
}

// Define converts x with ValueOf and defines a property with attrs.
func (v *Value) Define(name string, x any, attrs engine.PropertyAttributes) error {
	return v.define(name, x, attrs)
}

func (v *Value) define(name string, x any, attrs engine.PropertyAttributes) error {
	obj, err := v.object(errors.PhaseProperty, "set property")
	if err != nil {
		return err
	}
	c := v.ctx
	val, err := c.ValueOf(x)
	if err != nil {
		return err
	}
	defer val.Release()
	key, err := newString(name)
	if err != nil {
		return err
	}
	defer engine.StringRelease(key)

	var exc engine.ValueRef
	engine.ObjectSetProperty(c.ref, obj, key, val.ref, attrs, &exc)
	return c.check(errors.PhaseProperty, exc)
}

// GetIndex reads an indexed property.
func (v *Value) GetIndex(i uint32) (*Value, error) {
	obj, err := v.object(errors.PhaseProperty, "get index")
	if err != nil {
		return nil, err
	}
	var exc engine.ValueRef
	res := engine.ObjectGetPropertyAtIndex(v.ctx.ref, obj, i, &exc)
	if err := v.ctx.check(errors.PhaseProperty, exc); err != nil {
		return nil, err
	}
	return v.ctx.wrap(res), nil
}

// SetIndex converts x with ValueOf and assigns it to an indexed property.
func (v *Value) SetIndex(i uint32, x any) error {
	obj, err := v.object(errors.PhaseProperty, "set index")
	if err != nil {
		return err
	}
	val, err := v.ctx.ValueOf(x)
	if err != nil {
		return err
	}
	defer val.Release()
	var exc engine.ValueRef
	engine.ObjectSetPropertyAtIndex(v.ctx.ref, obj, i, val.ref, &exc)
	return v.ctx.check(errors.PhaseProperty, exc)
}

// Has reports whether name is in the object or its prototype chain.
func (v *Value) Has(name string) (bool, error) {
	obj, err := v.object(errors.PhaseProperty, "test property")
	if err != nil {
		return false, err
	}
	key, err := newString(name)
	if err != nil {
		return false, err
	}
	defer engine.StringRelease(key)
	return engine.ObjectHasProperty(v.ctx.ref, obj, key), nil
}

// Delete removes an own property. It reports false for non-configurable
// properties.
func (v *Value) Delete(name string) (bool, error) {
	obj, err := v.object(errors.PhaseProperty, "delete property")
	if err != nil {
		return false, err
	}
	key, err := newString(name)
	if err != nil {
		return false, err
	}
	defer engine.StringRelease(key)
	var exc engine.ValueRef
	ok := engine.ObjectDeleteProperty(v.ctx.ref, obj, key, &exc)
	if err := v.ctx.check(errors.PhaseProperty, exc); err != nil {
		return false, err
	}
	return ok, nil
}

// Keys returns the own enumerable string keys.
func (v *Value) Keys() ([]string, error) {
	obj, err := v.object(errors.PhaseProperty, "list keys")
	if err != nil {
		return nil, err
	}
	names := engine.ObjectCopyPropertyNames(v.ctx.ref, obj)
	defer engine.PropertyNameArrayRelease(names)
	n := engine.PropertyNameArrayGetCount(names)
	keys := make([]string, n)
	for i := range keys {
		keys[i] = engine.StringCopy(engine.PropertyNameArrayGetNameAtIndex(names, i))
	}
	return keys, nil
}

// Length reads the length property as an integer. Missing or non-numeric
// lengths read as 0.
func (v *Value) Length() (int, error) {
	l, err := v.Get("length")
	if err != nil {
		return 0, err
	}
	defer l.Release()
	f, err := l.ToFloat64()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || f <= 0 {
		return 0, nil
	}
	if f > maxArrayLength {
		return 0, errors.New(errors.PhaseConvert, errors.KindOutOfBounds).
			Value(f).
			Detail("length %v exceeds %d", f, maxArrayLength).
			Build()
	}
	return int(f), nil
}

// Call invokes the value as a function. A nil this calls with an
// undefined receiver. Arguments are converted with ValueOf.
func (v *Value) Call(this *Value, args ...any) (*Value, error) {
	if err := v.use(errors.PhaseCall); err != nil {
		return nil, err
	}
	if !v.IsFunction() {
		return nil, errors.NotCallable(errors.PhaseCall, v.TypeName())
	}
	c := v.ctx
	var thisRef engine.ObjectRef
	if this != nil {
		if err := c.owns(errors.PhaseCall, this); err != nil {
			return nil, err
		}
		thisRef = engine.ObjectRef(this.ref)
	}
	vals, err := c.valuesOf(args, 0)
	if err != nil {
		return nil, err
	}
	defer releaseAll(vals)
	argv, free, err := marshal(refsOf(vals))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCall, errors.KindOutOfMemory, err, "marshal arguments")
	}

	var exc engine.ValueRef
	res := engine.ObjectCallAsFunction(c.ref, engine.ObjectRef(v.ref), thisRef, len(vals), argv, &exc)
	free()
	if err := c.outcome(errors.PhaseCall, exc); err != nil {
		return nil, err
	}
	if res == 0 {
		res = engine.ValueMakeUndefined(c.ref)
	}
	return c.wrap(res), nil
}

// Construct invokes the value with new.
func (v *Value) Construct(args ...any) (*Value, error) {
	if err := v.use(errors.PhaseCall); err != nil {
		return nil, err
	}
	if !v.IsConstructor() {
		return nil, errors.New(errors.PhaseCall, errors.KindNotCallable).
			JSType(v.TypeName()).
			Detail("value is not a constructor").
			Build()
	}
	c := v.ctx
	vals, err := c.valuesOf(args, 0)
	if err != nil {
		return nil, err
	}
	defer releaseAll(vals)
	argv, free, err := marshal(refsOf(vals))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCall, errors.KindOutOfMemory, err, "marshal arguments")
	}

	var exc engine.ValueRef
	res := engine.ObjectCallAsConstructor(c.ref, engine.ObjectRef(v.ref), len(vals), argv, &exc)
	free()
	if err := c.outcome(errors.PhaseCall, exc); err != nil {
		return nil, err
	}
	return c.wrap(engine.ValueRef(res)), nil
}

// IsInstanceOf evaluates v instanceof ctor.
func (v *Value) IsInstanceOf(ctor *Value) (bool, error) {
	if err := v.use(errors.PhaseCall); err != nil {
		return false, err
	}
	c := v.ctx
	if err := c.owns(errors.PhaseCall, ctor); err != nil {
		return false, err
	}
	if !ctor.IsObject() {
		return false, errors.NotAnObject(errors.PhaseCall, ctor.TypeName(), "use instanceof")
	}
	var exc engine.ValueRef
	ok := engine.ValueIsInstanceOfConstructor(c.ref, v.ref, engine.ObjectRef(ctor.ref), &exc)
	if err := c.check(errors.PhaseCall, exc); err != nil {
		return false, err
	}
	return ok, nil
}

// Equal compares with ==.
func (v *Value) Equal(o *Value) (bool, error) {
	if err := v.use(errors.PhaseConvert); err != nil {
		return false, err
	}
	if err := v.ctx.owns(errors.PhaseConvert, o); err != nil {
		return false, err
	}
	var exc engine.ValueRef
	eq := engine.ValueIsEqual(v.ctx.ref, v.ref, o.ref, &exc)
	if err := v.ctx.check(errors.PhaseConvert, exc); err != nil {
		return false, err
	}
	return eq, nil
}

// StrictEqual compares with ===. Values from different contexts are never equal.
func (v *Value) StrictEqual(o *Value) bool {
	if !v.usable() || !o.usable() || v.ctx != o.ctx {
		return false
	}
	return engine.ValueIsStrictEqual(v.ctx.ref, v.ref, o.ref)
}

// Prototype returns the prototype, or null.
func (v *Value) Prototype() (*Value, error) {
	obj, err := v.object(errors.PhaseProperty, "get prototype")
	if err != nil {
		return nil, err
	}
	return v.ctx.wrap(engine.ObjectGetPrototype(v.ctx.ref, obj)), nil
}

// SetPrototype sets the prototype. A nil proto sets null.
func (v *Value) SetPrototype(proto *Value) error {
	obj, err := v.object(errors.PhaseProperty, "set prototype")
	if err != nil {
		return err
	}
	if proto == nil {
		engine.ObjectSetPrototype(v.ctx.ref, obj, engine.ValueMakeNull(v.ctx.ref))
		return nil
	}
	if err := v.ctx.owns(errors.PhaseProperty, proto); err != nil {
		return err
	}
	if !proto.IsObject() && !proto.IsNull() {
		return errors.NotAnObject(errors.PhaseProperty, proto.TypeName(), "use as prototype")
	}
	engine.ObjectSetPrototype(v.ctx.ref, obj, proto.ref)
	return nil
}

// ToJSON serializes the value with indent spaces per level (at most 10).
func (v *Value) ToJSON(indent uint) (string, error) {
	if err := v.use(errors.PhaseConvert); err != nil {
		return "", err
	}
	var exc engine.ValueRef
	s := engine.ValueCreateJSONString(v.ctx.ref, v.ref, indent, &exc)
	if err := v.ctx.check(errors.PhaseConvert, exc); err != nil {
		return "", err
	}
	if s == 0 {
		return "", errors.New(errors.PhaseConvert, errors.KindTypeMismatch).
			GoType("string").
			JSType(v.TypeName()).
			Detail("value has no JSON representation").
			Build()
	}
	defer engine.StringRelease(s)
	return engine.StringCopy(s), nil
}

// owns checks that o is a usable value of c.
func (c *Context) owns(phase errors.Phase, o *Value) error {
	switch {
	case o == nil:
		return errors.InvalidInput(phase, "nil value")
	case o.released.Load():
		return errors.Closed(phase, "value")
	case o.ctx != c:
		return errors.InvalidInput(phase, "value belongs to another context")
	}
	return nil
}

func refsOf(vals []*Value) []engine.ValueRef {
	refs := make([]engine.ValueRef, len(vals))
	for i, v := range vals {
		refs[i] = v.ref
	}
	return refs
}

func releaseAll(vals []*Value) {
	for _, v := range vals {
		v.Release()
	}
}

// arguments wraps handles from an argv block. The caller releases them.
func (c *Context) arguments(argc int, argv native.Pointer) []*Value {
	refs := unmarshal(argc, argv)
	out := make([]*Value, len(refs))
	for i, ref := range refs {
		out[i] = c.wrap(ref)
	}
	return out
}
