// Package locking provides mutual exclusion over sets of keys.
package locking

// Group is an abstraction for running functions with mutual exclusion over
// sets of keys. The disk backend uses it so two savers reserving the same
// cache key serialize instead of corrupting each other's entries.
type Group interface {
	// DoWithLock runs the given function with mutual exclusion over the given key.
	DoWithLock(key string, fn func() (interface{}, error)) (v interface{}, err error)
}
