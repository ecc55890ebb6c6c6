package memspot_test

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/memspot"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureRegistry builds a registry whose violations are collected instead of aborting the process
func captureRegistry(t require.TestingT, options memspot.CreateOptions) (*memspot.Registry, *memspot.CaptureReporter) {
	reporter := &memspot.CaptureReporter{}
	options.Reporter = reporter

	registry, err := memspot.New(testLogger(), options)
	require.NoError(t, err)

	return registry, reporter
}

// requireViolation runs f, which must raise a violation of the expected kind, and returns the
// violation for further assertions
func requireViolation(t *testing.T, expectedKind memspot.ViolationKind, f func()) *memspot.Violation {
	t.Helper()

	var violation *memspot.Violation
	func() {
		defer func() {
			recovered := recover()
			require.NotNil(t, recovered, "expected the operation to raise a violation")

			var ok bool
			violation, ok = recovered.(*memspot.Violation)
			require.True(t, ok, "expected the panic value to be a *Violation")
		}()

		f()
	}()

	require.Equal(t, expectedKind, violation.Kind)
	require.NotEmpty(t, violation.Stack)
	return violation
}

func skipWithoutChecks(t *testing.T) {
	t.Helper()

	if memspot.DebugMargin == 0 {
		t.Skip("liveness checking is compiled out in this build")
	}
}

func TestNewRejectsBadAlignment(t *testing.T) {
	_, err := memspot.New(testLogger(), memspot.CreateOptions{
		BlockAlignment: 24,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, memspot.PowerOfTwoError)
}

func TestNewRejectsNegativeExpectedBlocks(t *testing.T) {
	_, err := memspot.New(testLogger(), memspot.CreateOptions{
		ExpectedBlocks: -1,
	})
	require.Error(t, err)
}

func TestCreateFlagsString(t *testing.T) {
	require.Equal(t, "CreateFlags(0)", memspot.CreateFlags(0).String())
	require.Equal(t, "RegistryCreateExternallySynchronized", memspot.RegistryCreateExternallySynchronized.String())
	require.Equal(t, "RegistryCreateExternallySynchronized|CreateFlags(0x2)", (memspot.RegistryCreateExternallySynchronized | 2).String())
}

func TestCalculateStatistics(t *testing.T) {
	skipWithoutChecks(t)

	registry, _ := captureRegistry(t, memspot.CreateOptions{})

	blockA := registry.CreateBlock(100)
	blockB := registry.CreateBlock(50)
	seq := memspot.CreateSeq[uint32](registry, 25)

	require.Equal(t, 3, registry.LiveCount())
	require.Equal(t, 250, registry.LiveBytes())

	var stats memspot.Statistics
	registry.CalculateStatistics(&stats)
	require.Equal(t, memspot.Statistics{
		BlockCount: 3,
		BlockBytes: 250,
	}, stats)

	var detailed memspot.DetailedStatistics
	detailed.Clear()
	registry.AddDetailedStatistics(&detailed)
	require.Equal(t, memspot.DetailedStatistics{
		Statistics: memspot.Statistics{
			BlockCount: 3,
			BlockBytes: 250,
		},
		BlockSizeMin: 50,
		BlockSizeMax: 100,
	}, detailed)

	blockA.Release()
	blockB.Release()
	seq.Release()

	registry.CalculateStatistics(&stats)
	require.Equal(t, memspot.Statistics{}, stats)
	require.Equal(t, 0, registry.LiveCount())
	require.Equal(t, 0, registry.LiveBytes())

	require.NoError(t, registry.Destroy())
}

func TestStatisticsMerge(t *testing.T) {
	skipWithoutChecks(t)

	registryA, _ := captureRegistry(t, memspot.CreateOptions{})
	registryB, _ := captureRegistry(t, memspot.CreateOptions{})

	blockA := registryA.CreateBlock(100)
	blockB := registryB.CreateBlock(30)

	var statsA, statsB memspot.DetailedStatistics
	statsA.Clear()
	statsB.Clear()
	registryA.AddDetailedStatistics(&statsA)
	registryB.AddDetailedStatistics(&statsB)

	var combined memspot.DetailedStatistics
	combined.Clear()
	combined.AddDetailedStatistics(&statsA)
	combined.AddDetailedStatistics(&statsB)

	require.Equal(t, memspot.DetailedStatistics{
		Statistics: memspot.Statistics{
			BlockCount: 2,
			BlockBytes: 130,
		},
		BlockSizeMin: 30,
		BlockSizeMax: 100,
	}, combined)

	blockA.Release()
	blockB.Release()
	require.NoError(t, registryA.Destroy())
	require.NoError(t, registryB.Destroy())
}

func TestContains(t *testing.T) {
	skipWithoutChecks(t)

	registry, _ := captureRegistry(t, memspot.CreateOptions{})

	block := registry.CreateBlock(16)
	base := block.Address()

	require.True(t, registry.Contains(base))
	require.True(t, registry.Contains(base+15))

	// containment is half-open: one-past-the-end belongs to no block
	require.False(t, registry.Contains(base+16))
	require.False(t, registry.Contains(base-1))

	block.Release()
	require.False(t, registry.Contains(base))

	require.NoError(t, registry.Destroy())
}

func TestRegistryValidate(t *testing.T) {
	registry, _ := captureRegistry(t, memspot.CreateOptions{})
	require.NoError(t, registry.Validate())

	block := registry.CreateBlock(8)
	seq := memspot.CreateSeq[uint64](registry, 4)

	require.NoError(t, registry.Validate())
	memspot.DebugValidate(registry)

	block.Release()
	seq.Release()

	require.NoError(t, registry.Validate())
	require.NoError(t, registry.Destroy())
}

func TestBuildStatsString(t *testing.T) {
	skipWithoutChecks(t)

	registry, _ := captureRegistry(t, memspot.CreateOptions{})

	block := registry.CreateBlock(64)
	seq := memspot.CreateSeq[byte](registry, 32)

	statsJson := registry.BuildStatsString(true)

	var decoded struct {
		General struct {
			API            string
			Flags          string
			BlockAlignment int
			DebugMargin    int
			CreatedBlocks  int
			ReleasedBlocks int
		}
		Total struct {
			BlockCount   int
			BlockBytes   int
			BlockSizeMin int
			BlockSizeMax int
		}
		Blocks []struct {
			Address    string
			Size       int
			Generation int
			LastAccess int
		}
	}
	require.NoError(t, json.Unmarshal([]byte(statsJson), &decoded))

	require.Equal(t, "memspot", decoded.General.API)
	require.Equal(t, "CreateFlags(0)", decoded.General.Flags)
	require.Equal(t, 16, decoded.General.BlockAlignment)
	require.Equal(t, memspot.DebugMargin, decoded.General.DebugMargin)
	require.Equal(t, 2, decoded.General.CreatedBlocks)
	require.Equal(t, 0, decoded.General.ReleasedBlocks)

	require.Equal(t, 2, decoded.Total.BlockCount)
	require.Equal(t, 96, decoded.Total.BlockBytes)
	require.Equal(t, 32, decoded.Total.BlockSizeMin)
	require.Equal(t, 64, decoded.Total.BlockSizeMax)

	require.Len(t, decoded.Blocks, 2)
	for _, blockInfo := range decoded.Blocks {
		require.NotEmpty(t, blockInfo.Address)
		require.Greater(t, blockInfo.Generation, 0)
		require.Greater(t, blockInfo.LastAccess, 0)
	}

	summary := registry.BuildStatsString(false)
	require.NotContains(t, summary, "\"Blocks\"")

	block.Release()
	seq.Release()
	require.NoError(t, registry.Destroy())
}

func TestDestroyReportsUndroppedBlocks(t *testing.T) {
	skipWithoutChecks(t)

	registry, _ := captureRegistry(t, memspot.CreateOptions{})
	block := registry.CreateBlock(32)

	err := registry.Destroy()
	require.Error(t, err)
	require.ErrorIs(t, err, memspot.UndroppedBlocksError)

	// a failed destroy leaves the registry usable so the leak can be fixed
	block.Release()
	require.NoError(t, registry.Destroy())
}

func TestExternallySynchronized(t *testing.T) {
	registry, _ := captureRegistry(t, memspot.CreateOptions{
		Flags: memspot.RegistryCreateExternallySynchronized,
	})

	block := registry.CreateBlock(128)
	ref := memspot.AsRef[uint64](block)
	ref.Set(42)
	require.Equal(t, uint64(42), ref.Get())

	block.Release()
	require.NoError(t, registry.Destroy())
}

func TestCheckCorruptionClean(t *testing.T) {
	registry, _ := captureRegistry(t, memspot.CreateOptions{})
	block := registry.CreateBlock(24)

	err := registry.CheckCorruption()
	if memspot.DebugMargin == 0 {
		require.ErrorIs(t, err, memspot.CorruptionDetectionDisabledError)
	} else {
		require.NoError(t, err)
	}

	block.Release()
	require.NoError(t, registry.Destroy())
}
