package memspot

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/exp/slog"
)

const (
	// CreatedFillPattern is the byte written across a block's payload at creation when the
	// memspot_init_blocks build tag is present
	CreatedFillPattern uint8 = 0xDC
	// DestroyedFillPattern is the byte written across a block's payload at release when the
	// memspot_init_blocks build tag is present
	DestroyedFillPattern uint8 = 0xEF
)

// Block is an owning handle to a single allocation tracked by a Registry. Copies of a *Block alias
// the same allocation: releasing through any copy releases the allocation for all of them, and the
// registry reports any later release as a violation.
type Block struct {
	registry   *Registry
	payload    unsafe.Pointer
	size       int
	generation uint64
}

// CreateBlock allocates size bytes of zeroed storage, registers it as a live block, and returns its
// owning handle. The payload is aligned per the registry's BlockAlignment option. A block of size 0
// is valid, but no address lies within it.
func (r *Registry) CreateBlock(size int) *Block {
	r.logger.Debug("Registry::CreateBlock")

	payload, generation := r.createStorage(size)
	block := &Block{
		registry:   r,
		payload:    payload,
		size:       size,
		generation: generation,
	}

	if checksEnabled && r.mutex.UseMutex {
		runtime.SetFinalizer(block, leakCheck)
	}

	return block
}

// createStorage is the shared allocation path behind CreateBlock and CreateSeq
func (r *Registry) createStorage(size int) (unsafe.Pointer, uint64) {
	if size < 0 {
		panic("attempting to create a block with a negative size")
	}
	DebugCheckPow2(r.blockAlignment, "r.blockAlignment")

	payload, buf := allocPayload(size, uintptr(r.blockAlignment))

	fillBlock(payload, size, CreatedFillPattern)
	if DebugMargin > 0 {
		WriteMagicValue(payload, -DebugMargin)
		WriteMagicValue(payload, size)
	}

	var generation uint64
	if checksEnabled {
		generation = r.register(buf, payload, size)
	}

	DebugValidate(r)
	return payload, generation
}

// allocPayload allocates backing storage with room for debug margins on both sides of the payload
// and for aligning the payload's base address. A full alignment's worth of slack is reserved so
// the aligned payload pointer stays strictly inside the backing array even for zero-size payloads.
func allocPayload(size int, alignment uintptr) (unsafe.Pointer, []byte) {
	allocSize := size + 2*DebugMargin + int(alignment)

	buf := make([]byte, allocSize)
	raw := unsafe.Pointer(&buf[0])
	offset := alignUp(uintptr(raw)+uintptr(DebugMargin), alignment) - uintptr(raw)

	return unsafe.Add(raw, offset), buf
}

// leakCheck runs when a block handle is garbage collected. A collected handle whose allocation is
// still registered can never be released, so the block has leaked.
func leakCheck(b *Block) {
	if b.registry.isLive(uintptr(b.payload), b.generation) {
		b.registry.logger.Warn("block handle was garbage collected without being released",
			slog.String("address", fmt.Sprintf("0x%x", uintptr(b.payload))),
			slog.Int("size", b.size),
		)
	}
}

// Size returns the length in bytes of the block's payload
func (b *Block) Size() int {
	return b.size
}

// Address returns the base address of the block's payload
func (b *Block) Address() uintptr {
	return uintptr(b.payload)
}

// Release returns the block's storage to the registry. Releasing a block that is no longer live is
// a fatal violation.
func (b *Block) Release() {
	b.registry.logger.Debug("Block::Release")

	b.registry.releaseBlock(b.payload, b.generation, b.size)
}

// AsRef returns a non-owning typed reference to the base of the block's payload. The size of T is
// not checked against the block's size: a reference to a type larger than the block will read and
// write past the payload, which the registry's debug margins catch at the next CheckCorruption.
func AsRef[T any](b *Block) Ref[T] {
	debugCheckElemType[T]("AsRef")

	return Ref[T]{
		registry:   b.registry,
		ptr:        b.payload,
		generation: b.generation,
	}
}
