package engine

import (
	"bytes"
	"sync"
	"unicode/utf16"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/wippyai/jsbridge/errors"
	"github.com/wippyai/jsbridge/native"
)

const stringHeader = 8

// guards refcount read-modify-write; strings are not owned by any context
var stringMu sync.Mutex

// StringCreate copies s into a new native string with refcount 1.
// Returns NULL if native memory is exhausted.
func StringCreate(s string) StringRef {
	h := nativeHeap()
	p, err := h.Allocate(uint32(stringHeader + len(s)))
	if err != nil {
		Logger().Warn("string allocation failed", zap.Int("bytes", len(s)), zap.Error(err))
		return 0
	}
	base := uint32(p)
	if err := h.WriteU32(base, 1); err != nil {
		panic(errors.BridgeInternal("write string header: %v", err))
	}
	if err := h.WriteU32(base+4, uint32(len(s))); err != nil {
		panic(errors.BridgeInternal("write string header: %v", err))
	}
	if len(s) > 0 {
		if err := h.Write(base+stringHeader, []byte(s)); err != nil {
			panic(errors.BridgeInternal("write string body: %v", err))
		}
	}
	return StringRef(p)
}

// StringCreateWithUTF8CString copies the NUL-terminated UTF-8 buffer at cstr.
func StringCreateWithUTF8CString(cstr native.Pointer) StringRef {
	if cstr == native.Null {
		return StringCreate("")
	}
	s, err := readCString(nativeHeap(), uint32(cstr))
	if err != nil {
		panic(errors.BridgeInternal("read C string at 0x%x: %v", cstr, err))
	}
	return StringCreate(s)
}

func readCString(h *native.Heap, at uint32) (string, error) {
	var out []byte
	size := h.Size()
	for at < size {
		n := min(uint32(64), size-at)
		chunk, err := h.Read(at, n)
		if err != nil {
			return "", err
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return string(append(out, chunk[:i]...)), nil
		}
		out = append(out, chunk...)
		at += n
	}
	return "", errors.OutOfBounds(errors.PhaseHeap, []string{"cstring"}, int(at), int(size))
}

// StringRetain increments the refcount.
func StringRetain(str StringRef) StringRef {
	if str == 0 {
		return 0
	}
	h := nativeHeap()
	stringMu.Lock()
	defer stringMu.Unlock()
	n, err := h.ReadU32(uint32(str))
	if err != nil || n == 0 {
		panic(errors.BridgeInternal("retain of dead string 0x%x", str))
	}
	_ = h.WriteU32(uint32(str), n+1)
	return str
}

// StringRelease decrements the refcount and frees the string at zero.
func StringRelease(str StringRef) {
	if str == 0 {
		return
	}
	h := nativeHeap()
	stringMu.Lock()
	defer stringMu.Unlock()
	n, err := h.ReadU32(uint32(str))
	if err != nil || n == 0 {
		panic(errors.BridgeInternal("release of dead string 0x%x", str))
	}
	if n > 1 {
		_ = h.WriteU32(uint32(str), n-1)
		return
	}
	_ = h.WriteU32(uint32(str), 0)
	if err := h.Release(native.Pointer(str)); err != nil {
		panic(errors.BridgeInternal("free string 0x%x: %v", str, err))
	}
}

func readString(str StringRef) (string, error) {
	h := nativeHeap()
	n, err := h.ReadU32(uint32(str) + 4)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	b, err := h.Read(uint32(str)+stringHeader, n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// mustString reads a StringRef. NULL reads as "".
func mustString(str StringRef) string {
	if str == 0 {
		return ""
	}
	s, err := readString(str)
	if err != nil {
		panic(errors.BridgeInternal("read string 0x%x: %v", str, err))
	}
	return s
}

// StringGetLength returns the length in UTF-16 code units.
func StringGetLength(str StringRef) int {
	s := mustString(str)
	n := 0
	for _, r := range s {
		if r == utf8.RuneError {
			n++
			continue
		}
		n += utf16.RuneLen(r)
	}
	return n
}

// StringGetMaximumUTF8CStringSize returns the buffer size needed by
// StringGetUTF8CString, including the terminating NUL.
func StringGetMaximumUTF8CStringSize(str StringRef) int {
	if str == 0 {
		return 1
	}
	n, err := nativeHeap().ReadU32(uint32(str) + 4)
	if err != nil {
		panic(errors.BridgeInternal("read string 0x%x: %v", str, err))
	}
	return int(n) + 1
}

// StringGetUTF8CString copies str into buf as a NUL-terminated string,
// truncating at a rune boundary to fit size. It returns the bytes written
// including the NUL, or 0 if size is 0.
func StringGetUTF8CString(str StringRef, buf native.Pointer, size int) int {
	if size <= 0 || buf == native.Null {
		return 0
	}
	s := mustString(str)
	if len(s) > size-1 {
		cut := size - 1
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	out := make([]byte, len(s)+1)
	copy(out, s)
	if err := nativeHeap().Write(uint32(buf), out); err != nil {
		panic(errors.BridgeInternal("write C string at 0x%x: %v", buf, err))
	}
	return len(out)
}

// StringIsEqual compares contents.
func StringIsEqual(a, b StringRef) bool {
	return mustString(a) == mustString(b)
}

// StringCopy returns the contents of str as a Go string.
func StringCopy(str StringRef) string {
	return mustString(str)
}
