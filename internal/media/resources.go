package media

import (
	"errors"
	"io"
	"sync"
)

// ResourceSet owns every decoder and decoded asset of one export job and
// releases them together. Release is idempotent and runs in reverse
// acquisition order.
type ResourceSet struct {
	mu       sync.Mutex
	closers  []io.Closer
	released bool
}

// NewResourceSet creates an empty set.
func NewResourceSet() *ResourceSet {
	return &ResourceSet{}
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

// Add registers c. Adding to a released set closes c immediately.
func (r *ResourceSet) Add(c io.Closer) {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		_ = c.Close()
		return
	}
	r.closers = append(r.closers, c)
	r.mu.Unlock()
}

// AddFunc registers a release callback.
func (r *ResourceSet) AddFunc(fn func()) {
	r.Add(closeFunc(func() error {
		fn()
		return nil
	}))
}

// Len returns the number of live resources.
func (r *ResourceSet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closers)
}

// Release closes every resource, joining any close errors.
func (r *ResourceSet) Release() error {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.released = true
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
