package engine

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

const defaultSourceName = "<eval>"

func compile(name, src string, startingLine int) (*goja.Program, error) {
	if startingLine > 1 {
		src = strings.Repeat("\n", startingLine-1) + src
	}
	return goja.Compile(name, src, false)
}

// thrown converts an error returned by goja into the script value that was thrown.
func (c *globalContext) thrown(err error) goja.Value {
	switch e := err.(type) {
	case *goja.Exception:
		if v := e.Value(); v != nil {
			return v
		}
		return goja.Undefined()
	case *goja.CompilerSyntaxError:
		return c.newError(c.in.syntaxError, strings.TrimPrefix(e.Error(), "SyntaxError: "))
	case *goja.CompilerReferenceError:
		return c.newError(c.in.errorCtor, e.Error())
	case *goja.StackOverflowError:
		return c.newError(c.in.rangeError, "Maximum call stack size exceeded")
	case *goja.InterruptedError:
		return c.newError(c.in.errorCtor, "interrupted: %v", e.Value())
	}
	return c.newError(c.in.errorCtor, err.Error())
}

// rethrow raises err inside a running script.
func (c *globalContext) rethrow(err error) {
	switch e := err.(type) {
	case *goja.Exception:
		panic(e)
	case *goja.StackOverflowError, *goja.InterruptedError:
		// uncatchable; goja unwinds these itself
		panic(e)
	}
	panic(c.thrown(err))
}

func (c *globalContext) sourceName(ref StringRef) string {
	if ref == 0 {
		return defaultSourceName
	}
	return mustString(ref)
}

// EvaluateScript runs script in the global scope. On failure it returns
// NULL and stores the thrown value in *exception.
func EvaluateScript(ctx ContextRef, script, sourceURL StringRef, startingLine int, exception *ValueRef) ValueRef {
	c := lookup(ctx)
	prg, err := compile(c.sourceName(sourceURL), mustString(script), startingLine)
	if err != nil {
		c.setException(exception, c.thrown(err))
		return 0
	}
	res, err := c.vm.RunProgram(prg)
	if err != nil {
		c.setException(exception, c.thrown(err))
		return 0
	}
	return c.newHandle(res)
}

// CheckScriptSyntax reports whether script parses. On a syntax error it
// returns false and stores a SyntaxError in *exception.
func CheckScriptSyntax(ctx ContextRef, script, sourceURL StringRef, startingLine int, exception *ValueRef) bool {
	c := lookup(ctx)
	if _, err := compile(c.sourceName(sourceURL), mustString(script), startingLine); err != nil {
		c.setException(exception, c.thrown(err))
		return false
	}
	return true
}

func (c *globalContext) typeErrorf(format string, args ...any) goja.Value {
	return c.newError(c.in.typeError, fmt.Sprintf(format, args...))
}
