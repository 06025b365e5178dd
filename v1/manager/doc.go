// Package manager implements the distributed lock manager: TTL-bounded
// exclusive ownership of named resources over a shared store, with a jittered
// bounded retry on contention, an in-process registry of held locks, and
// per-operation event reporting to the health monitor.
//
// The manager is safe for concurrent use by many goroutines, and correctness
// holds across process boundaries: the shared store arbitrates ownership and
// a fencing token per acquisition guards every release and extension. There
// is no queueing of waiters; a losing contender fails fast and decides
// independently whether to retry.
package manager
