package memspot

import "unsafe"

// Ref is a non-owning typed reference into a block's payload. Refs are freely copyable; every use
// verifies that the referenced block is still live and still the same block the ref was created
// against. The zero value is not usable.
type Ref[T any] struct {
	registry   *Registry
	ptr        unsafe.Pointer
	generation uint64
}

// Get reads the referenced value. Reading through a reference into a released block is a fatal
// violation.
func (r Ref[T]) Get() T {
	r.registry.assertLive(r.ptr, r.generation)

	return *(*T)(r.ptr)
}

// Set writes the referenced value. Writing through a reference into a released block is a fatal
// violation.
func (r Ref[T]) Set(value T) {
	r.registry.assertLive(r.ptr, r.generation)

	*(*T)(r.ptr) = value
}

// Address returns the address the reference points at
func (r Ref[T]) Address() uintptr {
	return uintptr(r.ptr)
}
