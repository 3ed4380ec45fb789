// Package registry maps synthetic identifiers to host records.
//
// Script engines hand a single opaque private-data slot back on every
// callback. Go code cannot store a closure there, so the slot carries an
// ID instead and the record lives here:
//
//	reg := registry.New[*record]("callbacks")
//
//	id := reg.Insert(rec)        // never 0, never reused
//	rec, ok := reg.Lookup(id)    // call dispatch
//	rec, ok = reg.Remove(id)     // finalize only
//
// # Concurrency
//
// A single mutex guards the entry map and the ID counter. Lookup and
// Remove are linearizable with respect to each other, so a finalizer
// running on a collector goroutine cannot race an in-flight dispatch into
// a half-removed record. Observers are notified after the lock is
// released.
//
// # Metrics
//
// Registries added with Register are exported by DefaultCollector:
//
//	prometheus.MustRegister(registry.DefaultCollector())
package registry
