//go:build !memspot_init_blocks

package memspot

import "unsafe"

const (
	// InitializeBlocks causes all new block payloads to be filled with deterministic data on creation
	// and again on release. If you are concerned that nondeterministic initialization of memory is
	// causing a bug, you can activate this with the memspot_init_blocks build tag to help diagnose
	// the issue. It impacts performance and should generally be left deactivated.
	InitializeBlocks bool = false
)

func fillBlock(data unsafe.Pointer, size int, pattern uint8) {
}
