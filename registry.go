package memspot

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/memspot/internal/utils"
	"github.com/vkngwrapper/memspot/stacktrace"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// allocRecord is the registry's book-keeping for a single live block
type allocRecord struct {
	// buf is the full backing array, including alignment padding and debug margins. Holding it
	// here keeps the storage reachable for as long as the block is registered.
	buf        []byte
	payload    unsafe.Pointer
	base       uintptr
	size       int
	generation uint64
	lastAccess atomic.Uint64
}

// Registry tracks the liveness of every block created through it and turns dangling references,
// double releases, and out-of-bounds accesses into fatal, reported violations instead of silent
// memory corruption. All checking is compiled out when the memspot_unchecked build tag is present,
// leaving only the raw storage behavior.
type Registry struct {
	logger   *slog.Logger
	mutex    utils.OptionalRWMutex
	reporter Reporter

	createFlags    CreateFlags
	blockAlignment uint

	// records indexes live blocks by their payload base address, while bases holds the same
	// addresses in sorted order so that interior pointers can be resolved to their block
	records   *swiss.Map[uintptr, *allocRecord]
	bases     []uintptr
	liveBytes int

	generation uint64
	accessTick atomic.Uint64
	destroyed  bool
}

// register adds freshly-allocated storage to the live table and issues its generation
func (r *Registry) register(buf []byte, payload unsafe.Pointer, size int) uint64 {
	base := uintptr(payload)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.destroyed {
		panic("attempting to create a block on a destroyed Registry")
	}

	r.generation++
	record := &allocRecord{
		buf:        buf,
		payload:    payload,
		base:       base,
		size:       size,
		generation: r.generation,
	}
	record.lastAccess.Store(r.accessTick.Add(1))

	r.records.Put(base, record)

	index, found := slices.BinarySearch(r.bases, base)
	if found {
		panic("a new block's base address collides with a live block")
	}
	r.bases = slices.Insert(r.bases, index, base)
	r.liveBytes += size

	return r.generation
}

// resolveContaining finds the live block whose payload contains addr, if any. Containment is
// half-open: a block's one-past-the-end address belongs to no block.
func (r *Registry) resolveContaining(addr uintptr) (*allocRecord, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	index, exact := slices.BinarySearch(r.bases, addr)
	if !exact {
		if index == 0 {
			return nil, false
		}
		index--
	}

	record, ok := r.records.Get(r.bases[index])
	if !ok {
		panic("registry base index is out of sync with the record table")
	}
	if addr >= record.base+uintptr(record.size) {
		return nil, false
	}

	return record, true
}

// assertLive raises a violation unless ptr lies within a live block carrying the expected
// generation. It must not be called with the registry mutex held.
func (r *Registry) assertLive(ptr unsafe.Pointer, generation uint64) {
	if !checksEnabled {
		return
	}

	addr := uintptr(ptr)
	record, ok := r.resolveContaining(addr)
	if ok && record.generation == generation {
		record.lastAccess.Store(r.accessTick.Add(1))
		return
	}

	r.raise(&Violation{
		Kind:       ViolationDanglingReference,
		Address:    addr,
		Generation: generation,
		Stack:      stacktrace.Capture(2),
	})
}

// releaseBlock removes a block from the live table, raising a violation if it is not live with
// the expected generation. When debug margins are in use, the margins are verified before the
// block is dropped.
func (r *Registry) releaseBlock(payload unsafe.Pointer, generation uint64, size int) {
	if !checksEnabled {
		fillBlock(payload, size, DestroyedFillPattern)
		return
	}

	base := uintptr(payload)

	r.mutex.Lock()
	record, ok := r.records.Get(base)
	if ok && record.generation == generation {
		if DebugMargin > 0 {
			if !ValidateMagicValue(record.payload, -DebugMargin) {
				r.mutex.Unlock()
				panic("MEMORY CORRUPTION DETECTED BEFORE FREED BLOCK")
			}
			if !ValidateMagicValue(record.payload, record.size) {
				r.mutex.Unlock()
				panic("MEMORY CORRUPTION DETECTED AFTER FREED BLOCK")
			}
		}

		fillBlock(payload, record.size, DestroyedFillPattern)

		r.records.Delete(base)
		index, found := slices.BinarySearch(r.bases, base)
		if !found {
			panic("registry base index is out of sync with the record table")
		}
		r.bases = slices.Delete(r.bases, index, index+1)
		r.liveBytes -= record.size

		r.mutex.Unlock()
		return
	}
	r.mutex.Unlock()

	r.raise(&Violation{
		Kind:       ViolationDoubleRelease,
		Address:    base,
		Generation: generation,
		Stack:      stacktrace.Capture(2),
	})
}

func (r *Registry) isLive(base uintptr, generation uint64) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	record, ok := r.records.Get(base)
	return ok && record.generation == generation
}

// raise reports a violation and then panics with it, so that the failing operation never returns
// to its caller. The registry mutex must not be held: reporters are free to call back into the
// registry, and tests recover the panic and continue using it.
func (r *Registry) raise(violation *Violation) {
	r.logger.Error("memory safety violation",
		slog.String("kind", violation.Kind.String()),
		slog.String("address", fmt.Sprintf("0x%x", violation.Address)),
		slog.Uint64("generation", violation.Generation),
	)

	r.reporter.ReportViolation(violation)
	panic(violation)
}

// Contains reports whether addr lies within the payload of any live block. It is always false when
// the memspot_unchecked build tag is present, because no liveness is tracked.
func (r *Registry) Contains(addr uintptr) bool {
	_, ok := r.resolveContaining(addr)
	return ok
}

// LiveCount returns the number of blocks that have been created through this registry and not yet
// released
func (r *Registry) LiveCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.records.Count()
}

// LiveBytes returns the total payload size in bytes of all live blocks
func (r *Registry) LiveBytes() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.liveBytes
}

// Validate checks the registry's internal consistency. It is meant for use with DebugValidate and
// returns an error when book-keeping has been corrupted.
func (r *Registry) Validate() error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.records.Count() != len(r.bases) {
		return errors.Errorf("the registry's record table contains %d blocks, but its base index contains %d", r.records.Count(), len(r.bases))
	}

	totalBytes := 0
	var prevEnd uintptr
	for index, base := range r.bases {
		record, ok := r.records.Get(base)
		if !ok {
			return errors.Errorf("base 0x%x is present in the base index but has no record", base)
		}
		if record.base != base {
			return errors.Errorf("the record filed under base 0x%x lists its base as 0x%x", base, record.base)
		}
		if record.size < 0 {
			return errors.Errorf("the record for base 0x%x has a negative size %d", base, record.size)
		}
		if record.generation == 0 || record.generation > r.generation {
			return errors.Errorf("the record for base 0x%x has generation %d, which this registry never issued", base, record.generation)
		}
		if index > 0 && base < prevEnd {
			return errors.Errorf("the block at base 0x%x overlaps the previous block, which ends at 0x%x", base, prevEnd)
		}

		prevEnd = base + uintptr(record.size)
		totalBytes += record.size
	}

	if totalBytes != r.liveBytes {
		return errors.Errorf("the registry lists %d live bytes, but its records total %d", r.liveBytes, totalBytes)
	}

	return nil
}

// AddDetailedStatistics adds statistics for this registry's live blocks to an existing
// DetailedStatistics object
func (r *Registry) AddDetailedStatistics(stats *DetailedStatistics) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	r.records.Iter(func(base uintptr, record *allocRecord) (stop bool) {
		stats.AddBlock(record.size)
		return false
	})
}

// CalculateStatistics builds summary statistics for this registry's live blocks
func (r *Registry) CalculateStatistics(stats *Statistics) {
	r.logger.Debug("Registry::CalculateStatistics")

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats.Clear()
	stats.BlockCount = r.records.Count()
	stats.BlockBytes = r.liveBytes
}

// BuildStatsString builds a JSON string detailing the current state of the registry. If detailed is
// true, the output includes a listing of every live block.
func (r *Registry) BuildStatsString(detailed bool) string {
	r.logger.Debug("Registry::BuildStatsString")

	writer := jwriter.NewWriter()
	rootObj := writer.Object()

	r.mutex.RLock()
	createdBlocks := int(r.generation)
	releasedBlocks := createdBlocks - r.records.Count()
	r.mutex.RUnlock()

	generalObj := rootObj.Name("General").Object()
	generalObj.Name("API").String("memspot")
	generalObj.Name("Flags").String(r.createFlags.String())
	generalObj.Name("BlockAlignment").Int(int(r.blockAlignment))
	generalObj.Name("DebugMargin").Int(DebugMargin)
	generalObj.Name("CreatedBlocks").Int(createdBlocks)
	generalObj.Name("ReleasedBlocks").Int(releasedBlocks)
	generalObj.End()

	var stats DetailedStatistics
	stats.Clear()
	r.AddDetailedStatistics(&stats)

	totalObj := rootObj.Name("Total").Object()
	totalObj.Name("BlockCount").Int(stats.BlockCount)
	totalObj.Name("BlockBytes").Int(stats.BlockBytes)
	if stats.BlockCount > 0 {
		totalObj.Name("BlockSizeMin").Int(stats.BlockSizeMin)
		totalObj.Name("BlockSizeMax").Int(stats.BlockSizeMax)
	}
	totalObj.End()

	if detailed {
		r.printDetailedMap(&rootObj)
	}

	rootObj.End()
	return string(writer.Bytes())
}

func (r *Registry) printDetailedMap(json *jwriter.ObjectState) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	for _, base := range r.bases {
		record, ok := r.records.Get(base)
		if !ok {
			panic("registry base index is out of sync with the record table")
		}

		obj := arrayState.Object()
		obj.Name("Address").String(fmt.Sprintf("0x%x", record.base))
		obj.Name("Size").Int(record.size)
		obj.Name("Generation").Int(int(record.generation))
		obj.Name("LastAccess").Int(int(record.lastAccess.Load()))
		obj.End()
	}
}

// CheckCorruption verifies the debug margins around every live block's payload. It returns nil if
// all margins are intact, CorruptionDetectionDisabledError if no margins are being written, and a
// descriptive error if an overrun or underrun write has damaged a margin. This method is fairly
// expensive and so should only be run as part of some sort of diagnostic regime.
func (r *Registry) CheckCorruption() error {
	r.logger.Debug("Registry::CheckCorruption")

	if DebugMargin == 0 {
		return CorruptionDetectionDisabledError
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var corruptionErr error
	r.records.Iter(func(base uintptr, record *allocRecord) (stop bool) {
		if !ValidateMagicValue(record.payload, -DebugMargin) {
			corruptionErr = errors.Errorf("MEMORY CORRUPTION DETECTED BEFORE BLOCK AT 0x%X!", base)
			return true
		}
		if !ValidateMagicValue(record.payload, record.size) {
			corruptionErr = errors.Errorf("MEMORY CORRUPTION DETECTED AFTER BLOCK AT 0x%X!", base)
			return true
		}

		return false
	})

	return corruptionErr
}

// Destroy tears down the registry after verifying that every block created through it has been
// released. When blocks are still live, each one is logged and Destroy returns an error wrapping
// UndroppedBlocksError; the registry is left usable so that the caller can release the blocks and
// try again. Destroying a registry twice is invalid.
func (r *Registry) Destroy() error {
	r.logger.Debug("Registry::Destroy")

	if !checksEnabled {
		return nil
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.destroyed {
		panic("attempting to destroy a Registry that has already been destroyed")
	}

	liveCount := r.records.Count()
	if liveCount > 0 {
		r.records.Iter(func(base uintptr, record *allocRecord) (stop bool) {
			r.logger.Warn("block was never released",
				slog.String("address", fmt.Sprintf("0x%x", base)),
				slog.Int("size", record.size),
				slog.Uint64("generation", record.generation),
			)
			return false
		})

		return cerrors.Wrapf(UndroppedBlocksError, "%d blocks are still live", liveCount)
	}

	r.destroyed = true
	return nil
}
