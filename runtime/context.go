package runtime

import (
	goruntime "runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/jsbridge/engine"
	"github.com/wippyai/jsbridge/errors"
	"github.com/wippyai/jsbridge/native"
)

// state is the part of a Context that cleanups may touch. It must not
// reference the Context or any Value.
//
// live counts the protects held by Values per handle. Once closed is set,
// Close owns whatever is left in live and pending.
type state struct {
	closed  atomic.Bool
	mu      sync.Mutex
	live    map[engine.ValueRef]int
	count   int
	pending []engine.ValueRef
}

// track records a protect of ref. It reports false once the context is
// closed.
func (s *state) track(ref engine.ValueRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.live[ref]++
	s.count++
	return true
}

// forget drops one protect of ref from the books. With deferred set the
// unprotect is queued for the next call on the owning goroutine; otherwise
// the caller unprotects when forget reports true.
func (s *state) forget(ref engine.ValueRef, deferred bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	if n := s.live[ref]; n > 1 {
		s.live[ref] = n - 1
	} else {
		delete(s.live, ref)
	}
	s.count--
	if deferred {
		s.pending = append(s.pending, ref)
		return false
	}
	return true
}

func (s *state) take() []engine.ValueRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending
	s.pending = nil
	return p
}

// drain returns every protect still owed to the engine, one entry per
// protect, and empties the books.
func (s *state) drain() []engine.ValueRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.pending
	for ref, n := range s.live {
		for ; n > 0; n-- {
			refs = append(refs, ref)
		}
	}
	s.live = map[engine.ValueRef]int{}
	s.count = 0
	s.pending = nil
	return refs
}

// Context owns one engine global context and the most recent exception
// raised on it.
//
// A Context is not safe for concurrent use. Values created from it must be
// used from the goroutine that drives it.
type Context struct {
	ref       engine.ContextRef
	st        *state
	exception *Value
	// translating counts nested exception translations in progress.
	translating int
	cleanup     goruntime.Cleanup
}

// New creates a context with the default engine configuration.
func New() (*Context, error) {
	return NewWithConfig(engine.DefaultConfig())
}

// NewWithConfig creates a context with explicit engine settings.
func NewWithConfig(cfg engine.Config) (*Context, error) {
	if _, err := native.Default(); err != nil {
		return nil, errors.Wrap(errors.PhaseContext, errors.KindOutOfMemory, err, "native heap unavailable")
	}
	c := newContext(engine.GlobalContextCreateWithConfig(0, cfg))
	Logger().Debug("context created", zap.Uint64("context", uint64(c.ref)))
	return c, nil
}

// Adopt wraps a context handle created elsewhere. The handle is retained,
// so Close is always balanced whether or not this package created it.
func Adopt(ref engine.ContextRef) *Context {
	engine.GlobalContextRetain(ref)
	c := newContext(ref)
	Logger().Debug("context adopted", zap.Uint64("context", uint64(ref)))
	return c
}

type contextLeak struct {
	st  *state
	ref engine.ContextRef
}

func newContext(ref engine.ContextRef) *Context {
	c := &Context{ref: ref, st: &state{live: map[engine.ValueRef]int{}}}
	// Contexts that own host functions stay reachable from the callback
	// registry until Close, so this only covers function-free contexts.
	c.cleanup = goruntime.AddCleanup(c, func(l contextLeak) {
		if l.st.closed.CompareAndSwap(false, true) {
			Logger().Warn("context collected without Close", zap.Uint64("context", uint64(l.ref)))
			engine.GlobalContextRelease(l.ref)
		}
	}, contextLeak{st: c.st, ref: ref})
	return c
}

// Close releases the engine context exactly once. Later calls are no-ops.
// Every protect still held by a Value is dropped first, so an engine
// context that outlives the wrapper (see Adopt) is left balanced. Values
// created from the context become inert.
func (c *Context) Close() error {
	if !c.st.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cleanup.Stop()
	c.exception = nil
	for _, ref := range c.st.drain() {
		engine.ValueUnprotect(c.ref, ref)
	}
	engine.GlobalContextRelease(c.ref)
	Logger().Debug("context closed", zap.Uint64("context", uint64(c.ref)))
	return nil
}

// Closed reports whether Close has been called.
func (c *Context) Closed() bool {
	return c.st.closed.Load()
}

// Ref returns the engine handle.
func (c *Context) Ref() engine.ContextRef {
	return c.ref
}

// LiveValues returns the number of Values from this context that have not
// been released.
func (c *Context) LiveValues() int {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	return c.st.count
}

// enter prepares the context for an engine call: deferred unprotects are
// applied, unprotected temporaries are dropped and the current exception
// is cleared.
func (c *Context) enter(phase errors.Phase) error {
	return c.enterFor(phase, nil)
}

// enterFor is enter on behalf of an operation on v. Operations on the
// current exception itself leave it in place so it can be inspected.
func (c *Context) enterFor(phase errors.Phase, v *Value) error {
	if c.st.closed.Load() {
		return errors.Closed(phase, "context")
	}
	if c.exception != nil && c.exception != v {
		c.ClearException()
	}
	for _, ref := range c.st.take() {
		engine.ValueUnprotect(c.ref, ref)
	}
	engine.ContextSweepTemporaries(c.ref)
	return nil
}

func (c *Context) mustEnter(phase errors.Phase) {
	if err := c.enter(phase); err != nil {
		panic(err)
	}
}

// check inspects an exception out-parameter after an engine call. A set
// exception becomes the current exception and is returned translated.
func (c *Context) check(phase errors.Phase, exc engine.ValueRef) error {
	if c.st.closed.Load() {
		return errors.Closed(phase, "context")
	}
	if exc == 0 {
		return nil
	}
	v := c.wrap(exc)
	if c.translating > 0 {
		v.Release()
		return errors.New(phase, errors.KindEngineException).
			Detail("exception raised while translating an exception").
			Build()
	}
	err := c.translate(phase, v)
	c.ClearException()
	c.exception = v
	return err
}

// outcome is check for calls that run script. A clean run also clears an
// exception left behind by host functions the script called.
func (c *Context) outcome(phase errors.Phase, exc engine.ValueRef) error {
	if exc == 0 && c.translating == 0 && !c.st.closed.Load() {
		c.ClearException()
	}
	return c.check(phase, exc)
}

// Exception returns the exception raised by the last call that failed, or
// nil. The context owns it. Operations on the returned Value keep it; any
// other call into the context clears or replaces it.
func (c *Context) Exception() *Value {
	return c.exception
}

// ClearException releases the current exception.
func (c *Context) ClearException() {
	if c.exception != nil {
		c.exception.Release()
		c.exception = nil
	}
}

// EvalOption configures Evaluate and CheckSyntax.
type EvalOption func(*evalOptions)

type evalOptions struct {
	sourceName   string
	startingLine int
}

// WithSourceName sets the name reported in stack traces.
func WithSourceName(name string) EvalOption {
	return func(o *evalOptions) { o.sourceName = name }
}

// WithStartingLine sets the line number of the first line of the script.
func WithStartingLine(line int) EvalOption {
	return func(o *evalOptions) { o.startingLine = line }
}

func (c *Context) sources(script string, opts []EvalOption) (src, name engine.StringRef, line int, err error) {
	o := evalOptions{startingLine: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if src, err = newString(script); err != nil {
		return 0, 0, 0, err
	}
	if o.sourceName != "" {
		if name, err = newString(o.sourceName); err != nil {
			engine.StringRelease(src)
			return 0, 0, 0, err
		}
	}
	return src, name, o.startingLine, nil
}

// Evaluate runs script in the global scope. A script that completes
// without a value yields undefined. On a script exception it returns an
// error of kind engine_exception and records the thrown value as the
// current exception.
func (c *Context) Evaluate(script string, opts ...EvalOption) (*Value, error) {
	if err := c.enter(errors.PhaseEvaluate); err != nil {
		return nil, err
	}
	src, name, line, err := c.sources(script, opts)
	if err != nil {
		return nil, err
	}
	defer engine.StringRelease(src)
	defer engine.StringRelease(name)

	var exc engine.ValueRef
	res := engine.EvaluateScript(c.ref, src, name, line, &exc)
	if err := c.outcome(errors.PhaseEvaluate, exc); err != nil {
		return nil, err
	}
	if res == 0 {
		res = engine.ValueMakeUndefined(c.ref)
	}
	return c.wrap(res), nil
}

// CheckSyntax reports whether script parses, without running it. A syntax
// error yields false and a nil error; the SyntaxError becomes the current
// exception.
func (c *Context) CheckSyntax(script string, opts ...EvalOption) (bool, error) {
	if err := c.enter(errors.PhaseSyntax); err != nil {
		return false, err
	}
	src, name, line, err := c.sources(script, opts)
	if err != nil {
		return false, err
	}
	defer engine.StringRelease(src)
	defer engine.StringRelease(name)

	var exc engine.ValueRef
	ok := engine.CheckScriptSyntax(c.ref, src, name, line, &exc)
	if c.st.closed.Load() {
		return false, errors.Closed(errors.PhaseSyntax, "context")
	}
	c.ClearException()
	if !ok && exc != 0 {
		c.exception = c.wrap(exc)
	}
	return ok, nil
}

// CollectGarbage drops unreferenced engine temporaries and runs a Go
// collection. It is never needed for correctness.
func (c *Context) CollectGarbage() {
	if c.enter(errors.PhaseContext) != nil {
		return
	}
	engine.GarbageCollect(c.ref)
}

// Global returns the global object.
func (c *Context) Global() (*Value, error) {
	if err := c.enter(errors.PhaseProperty); err != nil {
		return nil, err
	}
	return c.wrap(engine.ValueRef(engine.ContextGetGlobalObject(c.ref))), nil
}

// SetGlobal converts v with ValueOf and assigns it to a global property.
func (c *Context) SetGlobal(name string, v any) error {
	g, err := c.Global()
	if err != nil {
		return err
	}
	defer g.Release()
	return g.Set(name, v)
}

// GetGlobal reads a global property.
func (c *Context) GetGlobal(name string) (*Value, error) {
	g, err := c.Global()
	if err != nil {
		return nil, err
	}
	defer g.Release()
	return g.Get(name)
}

// newString copies s into native memory. The caller releases it.
func newString(s string) (engine.StringRef, error) {
	ref := engine.StringCreate(s)
	if ref == 0 {
		return 0, errors.OutOfMemory(errors.PhaseHeap, uint64(len(s)))
	}
	return ref, nil
}

// marshal writes refs into a native argv block of exactly
// len(refs)*PointerWidth bytes. free must be called once the engine call
// returns.
func marshal(refs []engine.ValueRef) (native.Pointer, func(), error) {
	if len(refs) == 0 {
		return native.Null, func() {}, nil
	}
	h, err := native.Default()
	if err != nil {
		return native.Null, nil, err
	}
	argv, err := h.Allocate(uint32(len(refs) * native.PointerWidth))
	if err != nil {
		return native.Null, nil, err
	}
	for i, ref := range refs {
		if err := h.WriteU64(uint32(argv)+uint32(i*native.PointerWidth), uint64(ref)); err != nil {
			_ = h.Release(argv)
			return native.Null, nil, err
		}
	}
	return argv, func() { _ = h.Release(argv) }, nil
}

// unmarshal reads argc handles from a native argv block.
func unmarshal(argc int, argv native.Pointer) []engine.ValueRef {
	if argc <= 0 {
		return nil
	}
	h, err := native.Default()
	if err != nil {
		panic(errors.BridgeInternal("native heap unavailable: %v", err))
	}
	out := make([]engine.ValueRef, argc)
	for i := range out {
		ref, err := h.ReadU64(uint32(argv) + uint32(i*native.PointerWidth))
		if err != nil {
			panic(errors.BridgeInternal("read argv[%d]: %v", i, err))
		}
		out[i] = engine.ValueRef(ref)
	}
	return out
}
