package memspot

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/memspot/internal/utils"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific registry behaviors to activate or deactivate
type CreateFlags int32

const (
	// RegistryCreateExternallySynchronized ensures that this registry and all handles created from it
	// will not be synchronized internally. The consumer must guarantee they are used from only one
	// thread at a time or are synchronized by some other mechanism, but performance may improve because
	// internal mutexes are not used.
	RegistryCreateExternallySynchronized CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	RegistryCreateExternallySynchronized: "RegistryCreateExternallySynchronized",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "CreateFlags(0)"
	}

	var sb strings.Builder
	for i := 0; i < 32; i++ {
		bit := CreateFlags(1 << i)
		if f&bit == 0 {
			continue
		}

		if sb.Len() > 0 {
			sb.WriteRune('|')
		}

		str, ok := createFlagsMapping[bit]
		if !ok {
			str = fmt.Sprintf("CreateFlags(0x%x)", uint32(bit))
		}
		sb.WriteString(str)
	}

	return sb.String()
}

const (
	// defaultBlockAlignment is the value that is used as the BlockAlignment when none is provided
	// via CreateOptions. It is large enough for every primitive Go type.
	defaultBlockAlignment uint = 16

	// defaultExpectedBlocks is the value that is used to size the registry's record table when no
	// ExpectedBlocks is provided via CreateOptions
	defaultExpectedBlocks int = 64
)

// CreateOptions contains optional settings when creating a registry
type CreateOptions struct {
	// Flags indicates specific registry behaviors to activate or deactivate
	Flags CreateFlags

	// Reporter receives fatal violations detected by the registry. When it is left nil, violations
	// are written to os.Stderr with a stack trace and the process is terminated.
	Reporter Reporter

	// BlockAlignment is the guaranteed alignment of every block payload created through the registry.
	// It must be a power of two. When it is left as 0, payloads are aligned to 16 bytes.
	BlockAlignment uint

	// ExpectedBlocks is a hint for the number of simultaneously-live blocks the registry should
	// expect, used to size its internal tables. It is not a limit.
	ExpectedBlocks int
}

// New creates a new Registry
//
// logger - The logger that the registry and all handles created from it will write diagnostics to
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Registry, error) {
	useMutex := options.Flags&RegistryCreateExternallySynchronized == 0

	alignment := options.BlockAlignment
	if alignment == 0 {
		alignment = defaultBlockAlignment
	}
	err := CheckPow2(alignment, "options.BlockAlignment")
	if err != nil {
		return nil, err
	}

	if options.ExpectedBlocks < 0 {
		return nil, errors.Newf("options.ExpectedBlocks is %d, but it cannot be negative", options.ExpectedBlocks)
	}
	expectedBlocks := options.ExpectedBlocks
	if expectedBlocks == 0 {
		expectedBlocks = defaultExpectedBlocks
	}

	reporter := options.Reporter
	if reporter == nil {
		reporter = &AbortReporter{}
	}

	registry := &Registry{
		logger:   logger,
		mutex:    utils.OptionalRWMutex{UseMutex: useMutex},
		reporter: reporter,

		createFlags:    options.Flags,
		blockAlignment: alignment,

		records: swiss.NewMap[uintptr, *allocRecord](uint32(expectedBlocks)),
	}

	return registry, nil
}
