package memspot

import (
	"fmt"

	"github.com/vkngwrapper/memspot/stacktrace"
)

// ViolationKind identifies the category of memory misuse detected by a Registry
type ViolationKind uint32

const (
	// ViolationDanglingReference indicates a read or write through a reference whose block has been
	// released, or whose block's address has since been reused by a newer block
	ViolationDanglingReference ViolationKind = iota
	// ViolationDoubleRelease indicates a release of a block that is not live, usually because it was
	// already released
	ViolationDoubleRelease
	// ViolationOutOfBounds indicates an element access past the end of a sequence or slice
	ViolationOutOfBounds
)

var violationKindMapping = map[ViolationKind]string{
	ViolationDanglingReference: "ViolationDanglingReference",
	ViolationDoubleRelease:     "ViolationDoubleRelease",
	ViolationOutOfBounds:       "ViolationOutOfBounds",
}

func (k ViolationKind) String() string {
	str, ok := violationKindMapping[k]
	if !ok {
		return "unknown ViolationKind"
	}

	return str
}

// Violation describes a single detected memory misuse. Violations are fatal: after one is handed to
// the registry's Reporter, the registry panics with the violation as the panic value, so the failing
// operation never returns to its caller.
type Violation struct {
	Kind ViolationKind
	// Address is the address the failing operation was applied to
	Address uintptr
	// Generation is the generation counter value the failing handle was created under
	Generation uint64
	// Index is the element index of a failing sequence or slice access. It is only populated when
	// Kind is ViolationOutOfBounds.
	Index int
	// Capacity is the element capacity of the sequence or slice. It is only populated when Kind is
	// ViolationOutOfBounds.
	Capacity int
	// Stack is the call stack of the failing operation
	Stack []stacktrace.Frame
}

func (v *Violation) Error() string {
	switch v.Kind {
	case ViolationDanglingReference:
		return fmt.Sprintf("use of dead reference at 0x%x (generation %d)", v.Address, v.Generation)
	case ViolationDoubleRelease:
		return fmt.Sprintf("release of dead block at 0x%x (generation %d), possibly a double release", v.Address, v.Generation)
	case ViolationOutOfBounds:
		return fmt.Sprintf("index %d is out of bounds for capacity %d at 0x%x", v.Index, v.Capacity, v.Address)
	}

	return fmt.Sprintf("unknown violation at 0x%x", v.Address)
}
