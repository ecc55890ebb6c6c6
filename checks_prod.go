//go:build memspot_unchecked

package memspot

import "unsafe"

const (
	// checksEnabled gates all liveness and bounds checking in this package. It is true unless the
	// memspot_unchecked build tag is present.
	checksEnabled = false

	// DebugMargin is the number of bytes of debug data that is placed before and after the payload
	// of each block created through a Registry
	DebugMargin int = 0
)

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes at the provided pointer and offset.
// This method no-ops if the memspot_unchecked build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {
}

// ValidateMagicValue verifies that the easy-to-identify marker written by WriteMagicValue is still present.
// It returns true if the value is still present and false otherwise.
// This method always returns true if the memspot_unchecked build tag is present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	return true
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops if the memspot_unchecked build tag is present.
func DebugValidate(validatable Validatable) {
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops if the memspot_unchecked build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
}

// debugCheckElemType panics if T is unsuitable as an element type for registry-backed storage.
// This method no-ops if the memspot_unchecked build tag is present.
func debugCheckElemType[T any](context string) {
}
