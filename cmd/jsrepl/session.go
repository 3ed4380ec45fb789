package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wippyai/jsbridge/engine"
	"github.com/wippyai/jsbridge/errors"
	"github.com/wippyai/jsbridge/native"
	"github.com/wippyai/jsbridge/runtime"
)

// session is one REPL context plus the commands around it.
type session struct {
	ctx *runtime.Context
	out io.Writer
}

func newSession(cfg engine.Config, out io.Writer) (*session, error) {
	ctx, err := runtime.NewWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	s := &session{ctx: ctx, out: out}

	fn, err := ctx.NewFunction("print", s.print)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	defer fn.Release()
	if err := ctx.SetGlobal("print", fn); err != nil {
		ctx.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) print(ctx *runtime.Context, this *runtime.Value, args []*runtime.Value) (*runtime.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		str, err := a.ToString()
		if err != nil {
			return nil, err
		}
		parts[i] = str
	}
	_, err := fmt.Fprintln(s.out, strings.Join(parts, " "))
	return nil, err
}

func (s *session) Close() error {
	return s.ctx.Close()
}

// eval runs one line of input. Lines starting with a dot are commands.
func (s *session) eval(line string) (out string, quit bool, err error) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return "", false, nil
	case ".exit":
		return "", true, nil
	case ".gc":
		s.ctx.CollectGarbage()
		return "collected", false, nil
	case ".stats":
		return s.stats(), false, nil
	}
	if strings.HasPrefix(line, ".") {
		return "", false, fmt.Errorf("unknown command %s", line)
	}
	out, err = s.run(line, "<repl>")
	return out, false, err
}

// run evaluates script and formats its result.
func (s *session) run(script, name string) (string, error) {
	v, err := s.ctx.Evaluate(script, runtime.WithSourceName(name))
	if err != nil {
		return "", describe(err)
	}
	defer v.Release()
	return format(v), nil
}

func (s *session) stats() string {
	ref := s.ctx.Ref()
	var b strings.Builder
	fmt.Fprintf(&b, "values:     %d live, %d protected, %d handles\n",
		s.ctx.LiveValues(), engine.ContextProtectedCount(ref), engine.ContextHandleCount(ref))
	cb := runtime.Callbacks().Stats()
	fmt.Fprintf(&b, "callbacks:  %d live, %d created\n", cb.Live, cb.Inserted)
	if h, err := native.Default(); err == nil {
		hs := h.Stats()
		fmt.Fprintf(&b, "native:     %d blocks, %d bytes, %d pages", hs.Allocations, hs.BytesInUse, hs.Pages)
	}
	return b.String()
}

// format renders a result the way a REPL shows it: strings quoted,
// plain data as JSON.
func format(v *runtime.Value) string {
	switch {
	case v.IsString():
		s, _ := v.ToString()
		return strconv.Quote(s)
	case v.IsFunction():
		name, err := v.Get("name")
		if err != nil {
			return "[Function]"
		}
		defer name.Release()
		if n, _ := name.ToString(); n != "" {
			return "[Function: " + n + "]"
		}
		return "[Function (anonymous)]"
	case v.IsObject() && !v.IsDate():
		if js, err := v.ToJSON(0); err == nil {
			return js
		}
	}
	return v.String()
}

// describe shortens script exceptions to what a REPL user needs.
func describe(err error) error {
	var e *errors.Error
	if errors.As(err, &e) && e.Kind == errors.KindEngineException {
		return fmt.Errorf("uncaught %s", e.Message())
	}
	return err
}
