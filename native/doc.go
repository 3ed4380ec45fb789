// Package native provides the process-wide native heap.
//
// The engine ABI exchanges C-layout data with its host through this heap:
// argument vectors for calls, private-data carriers for host objects and
// UTF-8 string buffers. The heap is a wazero linear memory, so Go pointers
// can never be stored in it; anything the host wants to recover later must
// be stored as an integer and resolved on the Go side.
//
// # Allocation
//
//	heap, err := native.Default()
//	ptr, err := heap.Alloc(8)
//	heap.WriteU64(uint32(ptr), id)
//	...
//	heap.Free(ptr)
//
// Pointer 0 is never returned by Alloc and is used as NULL.
//
// # Concurrency
//
// Every operation holds a single mutex. Growing memory may move the backing
// buffer, so Read always returns a copy.
package native
