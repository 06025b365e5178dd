// Package locker provides the store-level locking primitive used by the
// warden lock manager: atomic set-if-absent-with-expiry plus token-matched
// delete and extend. Implementations exist for a single Redis node, a
// Redlock quorum over several nodes, and local memory for tests.
package locker
