package runtime

import (
	"go.uber.org/zap"

	"github.com/wippyai/jsbridge/engine"
	"github.com/wippyai/jsbridge/errors"
	"github.com/wippyai/jsbridge/native"
	"github.com/wippyai/jsbridge/registry"
)

// maxCauseDepth bounds how many cause links translation follows.
const maxCauseDepth = 8

var hostErrors = registry.New[error]("host_errors")

func init() {
	registry.Register(hostErrors)
}

// translate converts a thrown script value into a Go error. If the value,
// or any cause it links to, boxes a Go error thrown by a Func, that
// original error is returned.
func (c *Context) translate(phase errors.Phase, exc *Value) error {
	c.translating++
	defer func() { c.translating-- }()
	return c.describe(phase, exc, 0)
}

func (c *Context) describe(phase errors.Phase, exc *Value, depth int) error {
	if err, ok := c.hostError(exc); ok {
		return err
	}

	msg, err := exc.ToString()
	if err != nil {
		msg = "exception of type " + exc.TypeName()
	}
	b := errors.New(phase, errors.KindEngineException).
		JSType(exc.TypeName()).
		Value(exc.Clone()).
		Detail("%s", msg)

	if !exc.IsObject() {
		return b.Build()
	}
	if stack, err := exc.Get("stack"); err == nil {
		if stack.IsString() {
			if s, err := stack.ToString(); err == nil {
				b.Stack(s)
			}
		}
		stack.Release()
	}
	if cause, err := exc.Get("cause"); err == nil {
		defer cause.Release()
		if herr, ok := c.hostError(cause); ok {
			return herr
		}
		if !cause.IsNullish() && depth < maxCauseDepth {
			b.Cause(c.describe(phase, cause, depth+1))
		}
	}
	return b.Build()
}

// carried returns the Go error an Error value carries, either as the value
// itself or as its cause.
func (c *Context) carried(v *Value) (error, bool) {
	if err, ok := c.hostError(v); ok {
		return err, true
	}
	if !v.IsObject() {
		return nil, false
	}
	key, err := newString("cause")
	if err != nil {
		return nil, false
	}
	defer engine.StringRelease(key)
	var exc engine.ValueRef
	cause := engine.ObjectGetProperty(c.ref, engine.ObjectRef(v.ref), key, &exc)
	if exc != 0 || cause == 0 {
		return nil, false
	}
	cv := c.wrap(cause)
	defer cv.Release()
	return c.hostError(cv)
}

// hostError unboxes a Go error from an object of the host error class.
func (c *Context) hostError(v *Value) (error, bool) {
	_, cls := classes()
	if !v.usable() || !engine.ValueIsObjectOfClass(c.ref, v.ref, cls) {
		return nil, false
	}
	id := carrierID(engine.ObjectGetPrivate(c.ref, engine.ObjectRef(v.ref)))
	err, ok := hostErrors.Lookup(id)
	if !ok {
		panic(errors.BridgeInternal("host error %d is not registered", id))
	}
	return err, true
}

// throw converts an error returned by a Func into a value for the engine's
// exception out-parameter. An unwrapped engine exception from this
// context is rethrown as the original script value.
func (c *Context) throw(err error) engine.ValueRef {
	if e, ok := err.(*errors.Error); ok && e.Kind == errors.KindEngineException {
		if v, ok := e.Value.(*Value); ok && v.usable() && v.ctx == c {
			return v.ref
		}
	}
	obj, berr := c.errorObject(err)
	if berr != nil {
		Logger().Warn("cannot box host error", zap.Error(err), zap.NamedError("box", berr))
		return engine.ValueRef(engine.ObjectMakeError(c.ref, 0, native.Null, nil))
	}
	return engine.ValueRef(obj)
}

// errorObject builds an Error whose message is err's text and whose
// non-enumerable cause boxes err itself.
func (c *Context) errorObject(err error) (engine.ObjectRef, error) {
	_, cls := classes()

	obj, berr := c.makeError(err.Error())
	if berr != nil {
		return 0, berr
	}

	id := hostErrors.Insert(err)
	carrier, berr := newCarrier(id)
	if berr != nil {
		hostErrors.Remove(id)
		return 0, berr
	}
	box := engine.ObjectMake(c.ref, cls, carrier)

	key, berr := newString("cause")
	if berr != nil {
		return 0, berr
	}
	defer engine.StringRelease(key)
	var exc engine.ValueRef
	engine.ObjectSetProperty(c.ref, obj, key, engine.ValueRef(box), engine.AttributeDontEnum, &exc)
	if exc != 0 {
		return 0, errors.EngineException(errors.PhaseCallback, "set cause", nil)
	}
	return obj, nil
}

func (c *Context) makeError(message string) (engine.ObjectRef, error) {
	s, err := newString(message)
	if err != nil {
		return 0, err
	}
	msg := engine.ValueMakeString(c.ref, s)
	engine.StringRelease(s)

	argv, free, err := marshal([]engine.ValueRef{msg})
	if err != nil {
		return 0, err
	}
	defer free()
	var exc engine.ValueRef
	obj := engine.ObjectMakeError(c.ref, 1, argv, &exc)
	if exc != 0 {
		return 0, errors.EngineException(errors.PhaseCallback, "construct Error", nil)
	}
	return obj, nil
}

// NewError creates a script Error with message.
func (c *Context) NewError(message string) (*Value, error) {
	if err := c.enter(errors.PhaseConvert); err != nil {
		return nil, err
	}
	obj, err := c.makeError(message)
	if err != nil {
		return nil, err
	}
	return c.wrap(engine.ValueRef(obj)), nil
}

// ErrorValue creates a script Error that carries err. When the value is
// thrown and comes back out of Evaluate or Call, err itself is returned.
func (c *Context) ErrorValue(err error) (*Value, error) {
	if err == nil {
		return nil, errors.InvalidInput(errors.PhaseConvert, "nil error")
	}
	if err := c.enter(errors.PhaseConvert); err != nil {
		return nil, err
	}
	obj, berr := c.errorObject(err)
	if berr != nil {
		return nil, berr
	}
	return c.wrap(engine.ValueRef(obj)), nil
}

func finalizeHostError(private native.Pointer) {
	id := carrierID(private)
	if _, ok := hostErrors.Remove(id); !ok {
		panic(errors.BridgeInternal("finalize of unregistered host error %d", id))
	}
	freeCarrier(private)
}

// convertHostError makes a boxed error print as its message.
func convertHostError(ctx engine.ContextRef, obj engine.ObjectRef, typ engine.ValueType, exception *engine.ValueRef) engine.ValueRef {
	if typ != engine.TypeString {
		return 0
	}
	err, ok := hostErrors.Lookup(carrierID(engine.ObjectGetPrivate(ctx, obj)))
	if !ok {
		return 0
	}
	s := engine.StringCreate(err.Error())
	if s == 0 {
		return 0
	}
	defer engine.StringRelease(s)
	return engine.ValueMakeString(ctx, s)
}
