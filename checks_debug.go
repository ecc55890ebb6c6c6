//go:build !memspot_unchecked

package memspot

import (
	"reflect"
	"unsafe"

	"github.com/pkg/errors"
)

const (
	// checksEnabled gates all liveness and bounds checking in this package. It is true unless the
	// memspot_unchecked build tag is present.
	checksEnabled = true

	// DebugMargin is the number of bytes of debug data that is placed before and after the payload
	// of each block created through a Registry
	DebugMargin int = 16
	// corruptionDetectionMagicValue is a 4-byte pattern that is copied into debug data placed around
	// block payloads
	corruptionDetectionMagicValue uint32 = 0x7F84E666
)

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes at the provided pointer and offset.
// This method no-ops if the memspot_unchecked build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {
	dest := unsafe.Add(data, offset)
	marginSize := DebugMargin / int(unsafe.Sizeof(uint32(0)))
	for i := 0; i < marginSize; i++ {
		*(*uint32)(dest) = corruptionDetectionMagicValue
		dest = unsafe.Add(dest, unsafe.Sizeof(uint32(0)))
	}
}

// ValidateMagicValue verifies that the easy-to-identify marker written by WriteMagicValue is still present.
// It returns true if the value is still present and false otherwise.
// This method always returns true if the memspot_unchecked build tag is present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	source := unsafe.Add(data, offset)
	marginSize := DebugMargin / int(unsafe.Sizeof(uint32(0)))
	for i := 0; i < marginSize; i++ {
		value := (*uint32)(source)
		if *value != corruptionDetectionMagicValue {
			return false
		}
		source = unsafe.Add(source, unsafe.Sizeof(uint32(0)))
	}

	return true
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops if the memspot_unchecked build tag is present.
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops if the memspot_unchecked build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}

// debugCheckElemType panics if T is unsuitable as an element type for registry-backed storage.
// Block payloads are untyped bytes, so the garbage collector does not trace pointers stored in
// them. Element types containing pointers would keep their referents reachable only by accident.
func debugCheckElemType[T any](context string) {
	var zero T
	elemType := reflect.TypeOf(&zero).Elem()
	if typeContainsPointers(elemType) {
		panic(errors.Errorf("attempting to use %s as an element type in %s, but it contains pointers, which the garbage collector cannot trace inside a block", elemType, context))
	}
}

func typeContainsPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan, reflect.Func,
		reflect.Interface, reflect.Slice, reflect.String:
		return true
	case reflect.Array:
		return t.Len() > 0 && typeContainsPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if typeContainsPointers(t.Field(i).Type) {
				return true
			}
		}
	}

	return false
}
