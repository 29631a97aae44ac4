// Package store implements the Shared Counter Store contract: a durable,
// cross-process key/value store with millisecond TTLs and
// exclusive-semantics atomic script execution. The contract itself is
// backend-neutral; this package ships one concrete backend, wrapping
// go-redis with namespacing and a health check.
package store

import (
	"context"
)

// Store is the contract the permit and observation packages depend on. It
// names no Redis-specific types so a future backend could implement it
// without touching callers, even though Eval's script argument is Lua
// source text (the only atomic-script dialect this repo speaks).
type Store interface {
	// Eval runs script atomically against keys/args and returns its raw
	// result (the caller decodes it). Implementations must guarantee
	// exclusive semantics: no other Eval or mutation is observable as
	// interleaved with this one.
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)

	// HealthCheck returns nil when the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the store's connections.
	Close() error
}
