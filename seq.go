package memspot

import (
	"math"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/memspot/stacktrace"
)

// Seq is an owning handle to a registry-tracked array of elements of type T. Like *Block, copies of
// a Seq alias the same allocation. Element accesses are bounds-checked against the capacity, and the
// references they produce are liveness-checked on use.
type Seq[T any] struct {
	registry   *Registry
	base       unsafe.Pointer
	capacity   int
	generation uint64
}

// CreateSeq allocates zeroed storage for capacity elements of type T, registers it as a single live
// block, and returns its owning handle. T must not contain pointers, because the garbage collector
// cannot trace pointers stored in a block's payload.
func CreateSeq[T any](r *Registry, capacity int) Seq[T] {
	r.logger.Debug("Registry::CreateSeq")

	debugCheckElemType[T]("CreateSeq")

	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	if checksEnabled && elemSize == 0 {
		panic(errors.Errorf("attempting to create a sequence of %T, which has zero size", zero))
	}
	if checksEnabled && uintptr(r.blockAlignment)%unsafe.Alignof(zero) != 0 {
		panic(errors.Errorf("attempting to create a sequence of %T, which requires %d-byte alignment, but the registry aligns blocks to %d bytes", zero, unsafe.Alignof(zero), r.blockAlignment))
	}
	if capacity < 0 {
		panic("attempting to create a sequence with a negative capacity")
	}
	if elemSize > 0 && capacity > math.MaxInt/elemSize {
		panic("attempting to create a sequence too large for the address space")
	}

	payload, generation := r.createStorage(capacity * elemSize)

	return Seq[T]{
		registry:   r,
		base:       payload,
		capacity:   capacity,
		generation: generation,
	}
}

// Capacity returns the number of elements the sequence holds
func (s Seq[T]) Capacity() int {
	return s.capacity
}

// Address returns the base address of the sequence's payload
func (s Seq[T]) Address() uintptr {
	return uintptr(s.base)
}

// Nth returns a reference to element index. The index is checked against the sequence's capacity;
// the block's liveness is checked when the returned reference is used.
func (s Seq[T]) Nth(index int) Ref[T] {
	s.boundsCheck(index)

	var zero T
	return Ref[T]{
		registry:   s.registry,
		ptr:        unsafe.Add(s.base, uintptr(index)*unsafe.Sizeof(zero)),
		generation: s.generation,
	}
}

// At reads element index. Both the index and the block's liveness are checked.
func (s Seq[T]) At(index int) T {
	return s.Nth(index).Get()
}

// Set writes element index. Both the index and the block's liveness are checked.
func (s Seq[T]) Set(index int, value T) {
	s.Nth(index).Set(value)
}

// AsSlice returns a non-owning view of the whole sequence
func (s Seq[T]) AsSlice() Slice[T] {
	return Slice[T]{
		registry:   s.registry,
		base:       s.base,
		count:      s.capacity,
		generation: s.generation,
	}
}

// Slice returns a non-owning view of count elements beginning at first. The requested range is
// checked against the sequence's capacity.
func (s Seq[T]) Slice(first, count int) Slice[T] {
	s.rangeCheck(first, count)

	var zero T
	return Slice[T]{
		registry:   s.registry,
		base:       unsafe.Add(s.base, uintptr(first)*unsafe.Sizeof(zero)),
		count:      count,
		generation: s.generation,
	}
}

// Release returns the sequence's storage to the registry. Releasing a sequence that is no longer
// live is a fatal violation.
func (s Seq[T]) Release() {
	s.registry.logger.Debug("Seq::Release")

	var zero T
	s.registry.releaseBlock(s.base, s.generation, s.capacity*int(unsafe.Sizeof(zero)))
}

func (s Seq[T]) boundsCheck(index int) {
	if !checksEnabled {
		return
	}
	if index >= 0 && index < s.capacity {
		return
	}

	s.registry.raise(&Violation{
		Kind:       ViolationOutOfBounds,
		Address:    uintptr(s.base),
		Generation: s.generation,
		Index:      index,
		Capacity:   s.capacity,
		Stack:      stacktrace.Capture(2),
	})
}

func (s Seq[T]) rangeCheck(first, count int) {
	if !checksEnabled {
		return
	}
	if first >= 0 && count >= 0 && count <= s.capacity && first <= s.capacity-count {
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
		Capacity:   s.capacity,
		Stack:      stacktrace.Capture(2),
	})
}
