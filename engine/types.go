package engine

import "github.com/wippyai/jsbridge/native"

// ContextRef is a global context handle. Zero is NULL.
type ContextRef uint64

// ValueRef is a value handle, meaningful only with its owning context. Zero is NULL.
type ValueRef uint64

// ObjectRef is a ValueRef known to hold an object.
type ObjectRef uint64

// ClassRef is a class handle. Zero is NULL.
type ClassRef uint64

// StringRef points at a reference counted UTF-8 string in native memory.
//
//	[refcount u32][byteLen u32][utf8 bytes]
type StringRef native.Pointer

// PropertyNameArrayRef points at a reference counted array of StringRefs in native memory.
//
//	[refcount u32][count u32][StringRef u64]...
type PropertyNameArrayRef native.Pointer

// ValueType is the script type of a value.
type ValueType int

const (
	TypeUndefined ValueType = iota
	TypeNull
	TypeBoolean
	TypeNumber
	TypeString
	TypeObject
	TypeSymbol
	TypeBigInt
)

func (t ValueType) String() string {
	switch t {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	case TypeSymbol:
		return "symbol"
	case TypeBigInt:
		return "bigint"
	}
	return "unknown"
}

// PropertyAttributes control how ObjectSetProperty defines a property.
type PropertyAttributes uint32

const (
	AttributeNone       PropertyAttributes = 0
	AttributeReadOnly   PropertyAttributes = 1 << 1
	AttributeDontEnum   PropertyAttributes = 1 << 2
	AttributeDontDelete PropertyAttributes = 1 << 3
)

// Class hooks. Hooks receive handles and native pointers only.
// Handles passed to a hook are temporaries that die when it returns.
// argv is a native block of argc 8-byte little-endian ValueRefs.
type (
	// InitializeCallback runs once after ObjectMake creates an object of the class.
	InitializeCallback func(ctx ContextRef, object ObjectRef)

	// FinalizeCallback runs once when an object of the class is collected or
	// its context is released. It may run on any goroutine and must not call
	// back into the engine.
	FinalizeCallback func(private native.Pointer)

	// CallAsFunctionCallback handles a plain call. this is NULL when the
	// caller supplied no receiver.
	CallAsFunctionCallback func(ctx ContextRef, function, this ObjectRef, argc int, argv native.Pointer, exception *ValueRef) ValueRef

	// CallAsConstructorCallback handles new. It must return an object or set exception.
	CallAsConstructorCallback func(ctx ContextRef, constructor ObjectRef, argc int, argv native.Pointer, exception *ValueRef) ObjectRef

	// HasInstanceCallback handles instanceof with the object on the right.
	HasInstanceCallback func(ctx ContextRef, constructor ObjectRef, possibleInstance ValueRef, exception *ValueRef) bool

	// ConvertToTypeCallback handles conversion to a primitive. Returning NULL
	// without an exception falls back to the ordinary conversion.
	ConvertToTypeCallback func(ctx ContextRef, object ObjectRef, typ ValueType, exception *ValueRef) ValueRef
)

// ClassDefinition describes a host class. Nil hooks are not installed.
type ClassDefinition struct {
	ClassName         string
	Initialize        InitializeCallback
	Finalize          FinalizeCallback
	CallAsFunction    CallAsFunctionCallback
	CallAsConstructor CallAsConstructorCallback
	HasInstance       HasInstanceCallback
	ConvertToType     ConvertToTypeCallback
}
