package jsbridge

// Memory is native memory the engine reads C-layout structures from.
// Offsets are byte addresses; multi-byte values are little-endian.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of native memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator hands out blocks of native memory.
// Unlike a bump allocator, Free does not need the block size.
type Allocator interface {
	Alloc(size uint32) (uint32, error)
	Free(ptr uint32) error
}
