package native

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/jsbridge"
	"github.com/wippyai/jsbridge/errors"
)

// Pointer is an address in native memory. Zero is NULL.
type Pointer uint32

// Null is the zero pointer.
const Null Pointer = 0

const (
	// PageSize is the wasm page size the heap grows by.
	PageSize = 65536

	// Align is the alignment of every block returned by Alloc.
	Align = 8

	// PointerWidth is the size of a handle slot in an argument vector.
	PointerWidth = 8

	defaultInitialPages = 1
	defaultMaxPages     = 1024
)

// memoryModule exports one page of memory as "memory" and nothing else.
var memoryModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version
	0x05, 0x03, 0x01, 0x00, 0x01, // memory section: 1 page, no max
	0x07, 0x0a, 0x01, // export section: 10 bytes, 1 export
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, // name: "memory"
	0x02, 0x00, // kind: memory, index 0
}

// Config holds heap sizing.
type Config struct {
	// InitialPages is grown to right after instantiation. 0 means 1.
	InitialPages uint32

	// MaxPages caps memory growth. 0 means 1024 pages (64MB).
	MaxPages uint32
}

// Stats is a snapshot of heap usage.
type Stats struct {
	Allocations int
	BytesInUse  uint64
	Pages       uint32
}

type block struct {
	ptr  uint32
	size uint32
}

// Heap is a first-fit allocator over a wazero linear memory.
// Implements jsbridge.Memory and jsbridge.Allocator.
type Heap struct {
	runtime  wazero.Runtime
	module   api.Module
	mem      *Wrapper
	free     []block
	live     map[uint32]uint32
	inUse    uint64
	top      uint32
	maxPages uint32
	mu       sync.Mutex
	closed   bool
}

var (
	_ jsbridge.Memory      = (*Heap)(nil)
	_ jsbridge.Allocator   = (*Heap)(nil)
	_ jsbridge.MemorySizer = (*Heap)(nil)
)

var (
	defaultHeap    *Heap
	defaultHeapErr error
	defaultOnce    sync.Once
)

// Default returns the process-wide heap, creating it on first use.
func Default() (*Heap, error) {
	defaultOnce.Do(func() {
		defaultHeap, defaultHeapErr = New(context.Background(), Config{})
	})
	return defaultHeap, defaultHeapErr
}

// New creates a heap backed by a fresh wazero runtime.
func New(ctx context.Context, cfg Config) (*Heap, error) {
	if cfg.InitialPages == 0 {
		cfg.InitialPages = defaultInitialPages
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.InitialPages > cfg.MaxPages {
		return nil, errors.InvalidInput(errors.PhaseHeap,
			fmt.Sprintf("initial pages %d exceed max pages %d", cfg.InitialPages, cfg.MaxPages))
	}

	rtCfg := wazero.NewRuntimeConfigInterpreter().WithMemoryLimitPages(cfg.MaxPages)
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	mod, err := rt.InstantiateWithConfig(ctx, memoryModule, wazero.NewModuleConfig().WithName("jsbridge.native"))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseHeap, errors.KindInvalidData, err, "instantiate native memory")
	}

	mem := mod.ExportedMemory("memory")
	if mem == nil {
		_ = rt.Close(ctx)
		return nil, errors.NotFound(errors.PhaseHeap, "export", "memory")
	}
	if pages := mem.Size() / PageSize; cfg.InitialPages > pages {
		if _, ok := mem.Grow(cfg.InitialPages - pages); !ok {
			_ = rt.Close(ctx)
			return nil, errors.OutOfMemory(errors.PhaseHeap, uint64(cfg.InitialPages)*PageSize)
		}
	}

	h := &Heap{
		runtime:  rt,
		module:   mod,
		mem:      &Wrapper{Mem: mem},
		live:     make(map[uint32]uint32),
		top:      Align, // offset 0 stays NULL
		maxPages: cfg.MaxPages,
	}
	Logger().Debug("native heap created",
		zap.Uint32("pages", mem.Size()/PageSize),
		zap.Uint32("max_pages", cfg.MaxPages))
	return h, nil
}

// Close releases the underlying wazero runtime.
// All pointers become invalid.
func (h *Heap) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.free = nil
	h.live = nil
	return h.runtime.Close(ctx)
}

func roundUp(n uint32) uint32 {
	return (n + Align - 1) &^ (Align - 1)
}

// Alloc returns a zeroed block of at least size bytes.
func (h *Heap) Alloc(size uint32) (uint32, error) {
	p, err := h.Allocate(size)
	return uint32(p), err
}

// Allocate is Alloc returning a typed Pointer.
func (h *Heap) Allocate(size uint32) (Pointer, error) {
	if size == 0 {
		size = Align
	}
	if uint64(size) > uint64(h.maxPages)*PageSize {
		return Null, errors.OutOfMemory(errors.PhaseHeap, uint64(size))
	}
	size = roundUp(size)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return Null, errors.Closed(errors.PhaseHeap, "native heap")
	}

	ptr, ok := h.takeFree(size)
	if !ok {
		var err error
		ptr, err = h.bump(size)
		if err != nil {
			return Null, err
		}
	}

	if err := h.mem.Write(ptr, make([]byte, size)); err != nil {
		return Null, errors.Wrap(errors.PhaseHeap, errors.KindOutOfBounds, err, "zero block")
	}
	h.live[ptr] = size
	h.inUse += uint64(size)
	return Pointer(ptr), nil
}

func (h *Heap) takeFree(size uint32) (uint32, bool) {
	for i, b := range h.free {
		if b.size < size {
			continue
		}
		if b.size > size {
			h.free[i] = block{ptr: b.ptr + size, size: b.size - size}
		} else {
			h.free = slices.Delete(h.free, i, i+1)
		}
		return b.ptr, true
	}
	return 0, false
}

func (h *Heap) bump(size uint32) (uint32, error) {
	end := uint64(h.top) + uint64(size)
	if current := uint64(h.mem.Size()); end > current {
		need := uint32((end - current + PageSize - 1) / PageSize)
		pages := h.mem.Size() / PageSize
		if pages+need > h.maxPages {
			return 0, errors.OutOfMemory(errors.PhaseHeap, uint64(size))
		}
		if _, ok := h.mem.Mem.Grow(need); !ok {
			return 0, errors.OutOfMemory(errors.PhaseHeap, uint64(size))
		}
		Logger().Debug("native heap grown", zap.Uint32("pages", pages+need))
	}
	ptr := h.top
	h.top = uint32(end)
	return ptr, nil
}

// Free returns a block to the heap.
// Freeing NULL is a no-op; freeing an unknown pointer is an error.
func (h *Heap) Free(ptr uint32) error {
	return h.Release(Pointer(ptr))
}

// Release is Free taking a typed Pointer.
func (h *Heap) Release(p Pointer) error {
	if p == Null {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errors.Closed(errors.PhaseHeap, "native heap")
	}

	ptr := uint32(p)
	size, ok := h.live[ptr]
	if !ok {
		return errors.InvalidInput(errors.PhaseHeap,
			fmt.Sprintf("free of unallocated pointer 0x%x", ptr))
	}
	delete(h.live, ptr)
	h.inUse -= uint64(size)
	h.insertFree(block{ptr: ptr, size: size})
	return nil
}

func (h *Heap) insertFree(b block) {
	i, _ := slices.BinarySearchFunc(h.free, b.ptr, func(e block, ptr uint32) int {
		switch {
		case e.ptr < ptr:
			return -1
		case e.ptr > ptr:
			return 1
		}
		return 0
	})
	h.free = slices.Insert(h.free, i, b)

	// coalesce with the next block, then the previous one
	if i+1 < len(h.free) && h.free[i].ptr+h.free[i].size == h.free[i+1].ptr {
		h.free[i].size += h.free[i+1].size
		h.free = slices.Delete(h.free, i+1, i+2)
	}
	if i > 0 && h.free[i-1].ptr+h.free[i-1].size == h.free[i].ptr {
		h.free[i-1].size += h.free[i].size
		h.free = slices.Delete(h.free, i, i+1)
	}

	// give the tail back to the bump region
	if last := h.free[len(h.free)-1]; last.ptr+last.size == h.top {
		h.top = last.ptr
		h.free = h.free[:len(h.free)-1]
	}
}

// Stats returns current usage.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return Stats{}
	}
	return Stats{
		Allocations: len(h.live),
		BytesInUse:  h.inUse,
		Pages:       h.mem.Size() / PageSize,
	}
}

// Size returns the current memory size in bytes.
func (h *Heap) Size() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0
	}
	return h.mem.Size()
}

// Read returns a copy of length bytes at offset.
func (h *Heap) Read(offset uint32, length uint32) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.Closed(errors.PhaseHeap, "native heap")
	}
	return h.mem.Read(offset, length)
}

// Write writes bytes at offset.
func (h *Heap) Write(offset uint32, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.Closed(errors.PhaseHeap, "native heap")
	}
	return h.mem.Write(offset, data)
}

// ReadU32 reads a little-endian uint32.
func (h *Heap) ReadU32(offset uint32) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, errors.Closed(errors.PhaseHeap, "native heap")
	}
	return h.mem.ReadU32(offset)
}

// ReadU64 reads a little-endian uint64.
func (h *Heap) ReadU64(offset uint32) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, errors.Closed(errors.PhaseHeap, "native heap")
	}
	return h.mem.ReadU64(offset)
}

// WriteU32 writes a little-endian uint32.
func (h *Heap) WriteU32(offset uint32, value uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.Closed(errors.PhaseHeap, "native heap")
	}
	return h.mem.WriteU32(offset, value)
}

// WriteU64 writes a little-endian uint64.
func (h *Heap) WriteU64(offset uint32, value uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.Closed(errors.PhaseHeap, "native heap")
	}
	return h.mem.WriteU64(offset, value)
}
