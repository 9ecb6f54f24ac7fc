package locking

// NoOpGroup is a Group implementation that performs no locking. Every call
// executes the function immediately. Useful for backends whose storage layer
// already provides its own exclusion, and in tests.
type NoOpGroup struct{}

// NewNoOpGroup creates a new NoOpGroup.
func NewNoOpGroup() *NoOpGroup {
	return &NoOpGroup{}
}

func (n *NoOpGroup) DoWithLock(key string, fn func() (interface{}, error)) (v interface{}, err error) {
	v, err = fn()
	return v, err
}
