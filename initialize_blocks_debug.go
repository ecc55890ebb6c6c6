//go:build memspot_init_blocks

package memspot

import "unsafe"

const (
	// InitializeBlocks causes all new block payloads to be filled with deterministic data on creation
	// and again on release. If you are concerned that nondeterministic initialization of memory is
	// causing a bug, you can activate this to help diagnose the issue. It impacts performance and
	// should generally be left deactivated.
	InitializeBlocks bool = true
)

func fillBlock(data unsafe.Pointer, size int, pattern uint8) {
	if !InitializeBlocks || size == 0 {
		return
	}

	dataSlice := ([]uint8)(unsafe.Slice((*uint8)(data), size))
	for i := 0; i < size; i++ {
		dataSlice[i] = pattern
	}
}
