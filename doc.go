// Package jsbridge embeds a C-style script engine in Go and bridges value
// lifetimes, host callbacks and exceptions across its handle-based ABI.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	jsbridge/            Root package with the native Memory and Allocator interfaces
//	├── runtime/         High-level API: Context, Value, host functions, exception translation
//	├── engine/          Handle-based engine ABI (contexts, values, objects, classes, strings)
//	├── native/          Native heap backed by wazero linear memory
//	├── registry/        Process-wide id -> record table for callback private data
//	└── errors/          Structured error types
//
// # Quick Start
//
//	ctx, err := runtime.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Close()
//
//	v, err := ctx.Evaluate("1 + 2.3")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer v.Release()
//	fmt.Println(v) // 3.3
//
// # Host Functions
//
// Go functions become engine-callable function objects:
//
//	sum, _ := ctx.NewFunction("sum", func(ctx *runtime.Context, this *runtime.Value, args []*runtime.Value) (*runtime.Value, error) {
//	    total := 0.0
//	    for _, a := range args {
//	        f, err := a.ToFloat64()
//	        if err != nil {
//	            return nil, err
//	        }
//	        total += f
//	    }
//	    return ctx.Number(total), nil
//	})
//	defer sum.Release()
//	ctx.SetGlobal("sum", sum)
//
// The engine only ever sees an 8-byte carrier in native memory holding a
// registry id; the Go closure stays in the registry until the engine
// finalizes the function object.
//
// # Thread Safety
//
// A Context and its values must be driven by one goroutine at a time. The
// callback registry and the native heap are safe for concurrent use because
// engine finalizers run on the Go cleanup goroutine.
package jsbridge
