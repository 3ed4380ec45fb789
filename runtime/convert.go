package runtime

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"time"

	"github.com/wippyai/jsbridge/engine"
	"github.com/wippyai/jsbridge/errors"
	"github.com/wippyai/jsbridge/native"
)

const (
	// maxArrayLength caps how many elements ToArray and Export materialize.
	maxArrayLength = 1 << 24
	// maxDepth bounds nesting in ValueOf and Export, which also stops cycles.
	maxDepth = 64
)

// Undefined returns undefined. It panics if the context is closed.
func (c *Context) Undefined() *Value {
	c.mustEnter(errors.PhaseConvert)
	return c.wrap(engine.ValueMakeUndefined(c.ref))
}

// Null returns null. It panics if the context is closed.
func (c *Context) Null() *Value {
	c.mustEnter(errors.PhaseConvert)
	return c.wrap(engine.ValueMakeNull(c.ref))
}

// Bool returns a boolean. It panics if the context is closed.
func (c *Context) Bool(b bool) *Value {
	c.mustEnter(errors.PhaseConvert)
	return c.wrap(engine.ValueMakeBoolean(c.ref, b))
}

// Number returns a number. It panics if the context is closed.
func (c *Context) Number(f float64) *Value {
	c.mustEnter(errors.PhaseConvert)
	return c.wrap(engine.ValueMakeNumber(c.ref, f))
}

// String returns a string.
func (c *Context) String(s string) (*Value, error) {
	if err := c.enter(errors.PhaseConvert); err != nil {
		return nil, err
	}
	ref, err := newString(s)
	if err != nil {
		return nil, err
	}
	defer engine.StringRelease(ref)
	return c.wrap(engine.ValueMakeString(c.ref, ref)), nil
}

// NewObject returns an empty plain object.
func (c *Context) NewObject() (*Value, error) {
	if err := c.enter(errors.PhaseConvert); err != nil {
		return nil, err
	}
	return c.wrap(engine.ValueRef(engine.ObjectMake(c.ref, 0, native.Null))), nil
}

// NewArray returns an array of items converted with ValueOf.
func (c *Context) NewArray(items ...any) (*Value, error) {
	return c.newArray(items, 0)
}

func (c *Context) newArray(items []any, depth int) (*Value, error) {
	if err := c.enter(errors.PhaseConvert); err != nil {
		return nil, err
	}
	vals, err := c.valuesOf(items, depth)
	if err != nil {
		return nil, err
	}
	defer releaseAll(vals)
	argv, free, err := marshal(refsOf(vals))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConvert, errors.KindOutOfMemory, err, "marshal array items")
	}
	defer free()

	var exc engine.ValueRef
	arr := engine.ObjectMakeArray(c.ref, len(vals), argv, &exc)
	if err := c.check(errors.PhaseConvert, exc); err != nil {
		return nil, err
	}
	return c.wrap(engine.ValueRef(arr)), nil
}

// ParseJSON parses s as JSON.
func (c *Context) ParseJSON(s string) (*Value, error) {
	if err := c.enter(errors.PhaseConvert); err != nil {
		return nil, err
	}
	ref, err := newString(s)
	if err != nil {
		return nil, err
	}
	defer engine.StringRelease(ref)
	v := engine.ValueMakeFromJSONString(c.ref, ref)
	if v == 0 {
		return nil, errors.InvalidData(errors.PhaseConvert, nil, "invalid JSON")
	}
	return c.wrap(v), nil
}

// ValueOf converts a Go value into a script value:
//
//	nil                    -> null
//	*Value                 -> a clone (must belong to this context)
//	bool, ints, floats     -> boolean, number
//	string                 -> string
//	*big.Int               -> bigint
//	time.Time              -> Date
//	Func                   -> host function
//	error                  -> Error carrying the error
//	slices and arrays      -> Array
//	maps with string keys  -> plain object
//
// Nesting deeper than 64 levels, such as a map that contains itself, is
// an InvalidData error.
func (c *Context) ValueOf(x any) (*Value, error) {
	return c.convert(x, 0)
}

func (c *Context) convert(x any, depth int) (*Value, error) {
	if depth > maxDepth {
		return nil, errors.InvalidData(errors.PhaseConvert, nil, "value nests too deeply")
	}
	switch x := x.(type) {
	case nil:
		return c.Null(), nil
	case *Value:
		if err := c.owns(errors.PhaseConvert, x); err != nil {
			return nil, err
		}
		return x.Clone(), nil
	case bool:
		return c.Bool(x), nil
	case int:
		return c.Number(float64(x)), nil
	case int8:
		return c.Number(float64(x)), nil
	case int16:
		return c.Number(float64(x)), nil
	case int32:
		return c.Number(float64(x)), nil
	case int64:
		return c.Number(float64(x)), nil
	case uint:
		return c.Number(float64(x)), nil
	case uint8:
		return c.Number(float64(x)), nil
	case uint16:
		return c.Number(float64(x)), nil
	case uint32:
		return c.Number(float64(x)), nil
	case uint64:
		return c.Number(float64(x)), nil
	case float32:
		return c.Number(float64(x)), nil
	case float64:
		return c.Number(x), nil
	case string:
		return c.String(x)
	case *big.Int:
		if x == nil {
			return c.Null(), nil
		}
		return c.bigInt(x)
	case time.Time:
		return c.date(x)
	case Func:
		return c.NewFunction("", x)
	case func(*Context, *Value, []*Value) (*Value, error):
		return c.NewFunction("", x)
	case error:
		return c.ErrorValue(x)
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return c.Null(), nil
		}
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return c.newArray(items, depth+1)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		if rv.IsNil() {
			return c.Null(), nil
		}
		obj, err := c.NewObject()
		if err != nil {
			return nil, err
		}
		iter := rv.MapRange()
		for iter.Next() {
			e, err := c.convert(iter.Value().Interface(), depth+1)
			if err == nil {
				err = obj.Set(iter.Key().String(), e)
				e.Release()
			}
			if err != nil {
				obj.Release()
				return nil, err
			}
		}
		return obj, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return c.Null(), nil
		}
		return c.convert(rv.Elem().Interface(), depth+1)
	}
	return nil, errors.TypeMismatch(errors.PhaseConvert, nil, fmt.Sprintf("%T", x), "")
}

func (c *Context) bigInt(n *big.Int) (*Value, error) {
	if err := c.enter(errors.PhaseConvert); err != nil {
		return nil, err
	}
	digits, err := newString(n.String())
	if err != nil {
		return nil, err
	}
	defer engine.StringRelease(digits)

	var exc engine.ValueRef
	v := engine.ValueMakeBigInt(c.ref, digits, &exc)
	if err := c.check(errors.PhaseConvert, exc); err != nil {
		return nil, err
	}
	return c.wrap(v), nil
}

// date builds a Date with millisecond precision.
func (c *Context) date(t time.Time) (*Value, error) {
	if err := c.enter(errors.PhaseConvert); err != nil {
		return nil, err
	}
	ms := engine.ValueMakeNumber(c.ref, float64(t.UnixMilli()))
	argv, free, err := marshal([]engine.ValueRef{ms})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConvert, errors.KindOutOfMemory, err, "marshal date")
	}
	defer free()

	var exc engine.ValueRef
	d := engine.ObjectMakeDate(c.ref, 1, argv, &exc)
	if err := c.check(errors.PhaseConvert, exc); err != nil {
		return nil, err
	}
	return c.wrap(engine.ValueRef(d)), nil
}

func (c *Context) valuesOf(items []any, depth int) ([]*Value, error) {
	vals := make([]*Value, 0, len(items))
	for i, it := range items {
		v, err := c.convert(it, depth)
		if err != nil {
			releaseAll(vals)
			if e, ok := err.(*errors.Error); ok && e.Kind == errors.KindTypeMismatch {
				e.Path = append([]string{fmt.Sprintf("[%d]", i)}, e.Path...)
			}
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// raisedSince reports whether a script exception replaced before. Array
// and object materialization swallow those in favor of an empty result.
func (c *Context) raisedSince(before *Value) bool {
	return c.exception != nil && c.exception != before
}

// ToArray materializes elements 0..length-1. If any element read raises
// an engine exception the result is empty, never a partial prefix.
func (v *Value) ToArray() ([]*Value, error) {
	if _, err := v.object(errors.PhaseConvert, "materialize array"); err != nil {
		return nil, err
	}
	before := v.ctx.exception
	n, err := v.Length()
	if err != nil {
		if v.ctx.raisedSince(before) {
			return []*Value{}, nil
		}
		return nil, err
	}
	out := make([]*Value, 0, n)
	for i := 0; i < n; i++ {
		e, err := v.GetIndex(uint32(i))
		if err != nil {
			releaseAll(out)
			if v.ctx.raisedSince(before) {
				return []*Value{}, nil
			}
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ToObject materializes own enumerable properties. If any read raises an
// engine exception the result is empty.
func (v *Value) ToObject() (map[string]*Value, error) {
	keys, err := v.Keys()
	if err != nil {
		return nil, err
	}
	before := v.ctx.exception
	out := make(map[string]*Value, len(keys))
	for _, k := range keys {
		e, err := v.Get(k)
		if err != nil {
			for _, x := range out {
				x.Release()
			}
			if v.ctx.raisedSince(before) {
				return map[string]*Value{}, nil
			}
			return nil, err
		}
		out[k] = e
	}
	return out, nil
}

// Export converts the value to plain Go data:
//
//	undefined, null -> nil
//	boolean         -> bool
//	number          -> float64
//	string, symbol  -> string
//	bigint          -> *big.Int
//	Date            -> time.Time
//	Array           -> []any
//	function        -> *Value (a clone the caller releases)
//	boxed Go error  -> error
//	other objects   -> map[string]any
//
// Arrays and objects follow the fail-closed rule of ToArray and ToObject.
func (v *Value) Export() (any, error) {
	return v.export(0)
}

func (v *Value) export(depth int) (any, error) {
	if depth > maxDepth {
		return nil, errors.InvalidData(errors.PhaseConvert, nil, "value nests too deeply")
	}
	if !v.usable() {
		return nil, errors.Closed(errors.PhaseConvert, "value")
	}
	switch v.Type() {
	case engine.TypeUndefined, engine.TypeNull:
		return nil, nil
	case engine.TypeBoolean:
		return v.ToBool(), nil
	case engine.TypeNumber:
		return v.ToFloat64()
	case engine.TypeString, engine.TypeSymbol:
		return v.ToString()
	case engine.TypeBigInt:
		s, err := v.ToString()
		if err != nil {
			return nil, err
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, errors.InvalidData(errors.PhaseConvert, nil, "bad bigint "+s)
		}
		return n, nil
	}

	if err, ok := v.ctx.carried(v); ok {
		return err, nil
	}
	switch {
	case v.IsFunction():
		return v.Clone(), nil
	case v.IsDate():
		ms, err := v.valueOf()
		if err != nil {
			return nil, err
		}
		if math.IsNaN(ms) {
			return time.Time{}, nil
		}
		return time.UnixMilli(int64(ms)), nil
	case v.IsArray():
		elems, err := v.ToArray()
		if err != nil {
			return nil, err
		}
		defer releaseAll(elems)
		out := make([]any, len(elems))
		for i, e := range elems {
			if out[i], err = e.export(depth + 1); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	props, err := v.ToObject()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(props))
	for k, p := range props {
		x, err := p.export(depth + 1)
		p.Release()
		if err != nil {
			for _, rest := range props {
				rest.Release()
			}
			return nil, err
		}
		out[k] = x
	}
	return out, nil
}

// valueOf calls the value's valueOf method and converts the result to a number.
func (v *Value) valueOf() (float64, error) {
	fn, err := v.Get("valueOf")
	if err != nil {
		return math.NaN(), err
	}
	defer fn.Release()
	r, err := fn.Call(v)
	if err != nil {
		return math.NaN(), err
	}
	defer r.Release()
	return r.ToFloat64()
}
