package memspot_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/memspot"
)

func TestCheckCorruptionDetectsOverrun(t *testing.T) {
	registry, _ := captureRegistry(t, memspot.CreateOptions{})
	block := registry.CreateBlock(4)

	if memspot.DebugMargin == 0 {
		require.ErrorIs(t, registry.CheckCorruption(), memspot.CorruptionDetectionDisabledError)
		block.Release()
		require.NoError(t, registry.Destroy())
		return
	}

	// a reference to a type wider than the block writes past the payload into the margin
	ref := memspot.AsRef[uint64](block)
	ref.Set(math.MaxUint64)

	err := registry.CheckCorruption()
	require.Error(t, err)
	require.Contains(t, err.Error(), "MEMORY CORRUPTION DETECTED AFTER BLOCK")

	// releasing the damaged block trips the same check fatally
	require.PanicsWithValue(t, "MEMORY CORRUPTION DETECTED AFTER FREED BLOCK", func() {
		block.Release()
	})

	// the damaged block was not removed, so it still shows up as live
	require.ErrorIs(t, registry.Destroy(), memspot.UndroppedBlocksError)
}

func TestCheckCorruptionManyBlocks(t *testing.T) {
	if memspot.DebugMargin == 0 {
		t.Skip("corruption margins are not written in this build")
	}

	registry, _ := captureRegistry(t, memspot.CreateOptions{})

	blocks := make([]*memspot.Block, 0, 16)
	for i := 0; i < 16; i++ {
		blocks = append(blocks, registry.CreateBlock(12))
	}
	require.NoError(t, registry.CheckCorruption())

	// damage exactly one block and make sure the sweep notices
	ref := memspot.AsRef[[16]byte](blocks[7])
	ref.Set([16]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE})

	require.Error(t, registry.CheckCorruption())

	for i, block := range blocks {
		if i == 7 {
			continue
		}
		block.Release()
	}
	require.PanicsWithValue(t, "MEMORY CORRUPTION DETECTED AFTER FREED BLOCK", func() {
		blocks[7].Release()
	})
}
