package memspot

import (
	"unsafe"

	"github.com/vkngwrapper/memspot/stacktrace"
)

// Slice is a non-owning view of a contiguous run of elements within a sequence. Slices do not
// release storage; they carry the generation of the sequence they were cut from, so every access
// through a slice of a released sequence is reported as a dangling reference.
type Slice[T any] struct {
	registry   *Registry
	base       unsafe.Pointer
	count      int
	generation uint64
}

// Len returns the number of elements in the view
func (s Slice[T]) Len() int {
	return s.count
}

// Address returns the address of the view's first element
func (s Slice[T]) Address() uintptr {
	return uintptr(s.base)
}

// Nth returns a reference to element index of the view. The index is checked against the view's
// length; the block's liveness is checked when the returned reference is used.
func (s Slice[T]) Nth(index int) Ref[T] {
	s.boundsCheck(index)

	var zero T
	return Ref[T]{
		registry:   s.registry,
		ptr:        unsafe.Add(s.base, uintptr(index)*unsafe.Sizeof(zero)),
		generation: s.generation,
	}
}

// At reads element index of the view. Both the index and the block's liveness are checked.
func (s Slice[T]) At(index int) T {
	return s.Nth(index).Get()
}

// Set writes element index of the view. Both the index and the block's liveness are checked.
func (s Slice[T]) Set(index int, value T) {
	s.Nth(index).Set(value)
}

// Sub returns a narrower view of count elements beginning at first, checked against this view's
// length
func (s Slice[T]) Sub(first, count int) Slice[T] {
	s.rangeCheck(first, count)

	var zero T
	return Slice[T]{
		registry:   s.registry,
		base:       unsafe.Add(s.base, uintptr(first)*unsafe.Sizeof(zero)),
		count:      count,
		generation: s.generation,
	}
}

func (s Slice[T]) boundsCheck(index int) {
	if !checksEnabled {
		return
	}
	if index >= 0 && index < s.count {
		return
	}

	s.registry.raise(&Violation{
		Kind:       ViolationOutOfBounds,
		Address:    uintptr(s.base),
		Generation: s.generation,
		Index:      index,
		Capacity:   s.count,
		Stack:      stacktrace.Capture(2),
	})
}

func (s Slice[T]) rangeCheck(first, count int) {
	if !checksEnabled {
		return
	}
	if first >= 0 && count >= 0 && count <= s.count && first <= s.count-count {
		return
	}

	badIndex := first
	if first >= 0 {
		badIndex = first + count
	}

	s.registry.raise(&Violation{
		Kind:       ViolationOutOfBounds,
		Address:    uintptr(s.base),
		Generation: s.generation,
		Index:      badIndex,
		Capacity:   s.count,
		Stack:      stacktrace.Capture(2),
	})
}
