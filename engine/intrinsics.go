package engine

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// Captured before any user script runs, so scripts that replace JSON,
// Reflect or the error constructors do not change engine behavior.
const intrinsicsSource = `(function () {
	return {
		factory: function (call, construct) {
			var F = function () {
				if (new.target === undefined) {
					return call(F, this, arguments);
				}
				return construct(F, new.target, arguments);
			};
			return F;
		},
		parse: JSON.parse,
		stringify: JSON.stringify,
		has: Reflect.has,
		deleteProperty: Reflect.deleteProperty,
		bigint: BigInt,
		Date: Date,
		Error: Error,
		TypeError: TypeError,
		RangeError: RangeError,
		SyntaxError: SyntaxError
	};
})()`

var (
	intrinsicsOnce    sync.Once
	intrinsicsProgram *goja.Program
	intrinsicsErr     error
)

type intrinsics struct {
	factory        goja.Callable
	parse          goja.Callable
	stringify      goja.Callable
	has            goja.Callable
	deleteProperty goja.Callable
	bigint         goja.Callable
	dateCtor       *goja.Object
	errorCtor      *goja.Object
	typeError      *goja.Object
	rangeError     *goja.Object
	syntaxError    *goja.Object
}

func (c *globalContext) loadIntrinsics() error {
	intrinsicsOnce.Do(func() {
		intrinsicsProgram, intrinsicsErr = goja.Compile("jsbridge:intrinsics", intrinsicsSource, true)
	})
	if intrinsicsErr != nil {
		return intrinsicsErr
	}

	v, err := c.vm.RunProgram(intrinsicsProgram)
	if err != nil {
		return err
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return fmt.Errorf("intrinsics evaluated to %s", v)
	}

	fn := func(name string) (goja.Callable, error) {
		f, ok := goja.AssertFunction(obj.Get(name))
		if !ok {
			return nil, fmt.Errorf("intrinsic %s is not a function", name)
		}
		return f, nil
	}
	ctor := func(name string) (*goja.Object, error) {
		o, ok := obj.Get(name).(*goja.Object)
		if !ok {
			return nil, fmt.Errorf("intrinsic %s is not an object", name)
		}
		return o, nil
	}

	if c.in.factory, err = fn("factory"); err != nil {
		return err
	}
	if c.in.parse, err = fn("parse"); err != nil {
		return err
	}
	if c.in.stringify, err = fn("stringify"); err != nil {
		return err
	}
	if c.in.has, err = fn("has"); err != nil {
		return err
	}
	if c.in.deleteProperty, err = fn("deleteProperty"); err != nil {
		return err
	}
	if c.in.bigint, err = fn("bigint"); err != nil {
		return err
	}
	if c.in.dateCtor, err = ctor("Date"); err != nil {
		return err
	}
	if c.in.errorCtor, err = ctor("Error"); err != nil {
		return err
	}
	if c.in.typeError, err = ctor("TypeError"); err != nil {
		return err
	}
	if c.in.rangeError, err = ctor("RangeError"); err != nil {
		return err
	}
	if c.in.syntaxError, err = ctor("SyntaxError"); err != nil {
		return err
	}
	return nil
}

// newError constructs ctor(msg). It falls back to the bare message if the
// constructor throws.
func (c *globalContext) newError(ctor *goja.Object, format string, args ...any) goja.Value {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	o, err := c.vm.New(ctor, c.vm.ToValue(msg))
	if err != nil {
		return c.vm.ToValue(msg)
	}
	return o
}
