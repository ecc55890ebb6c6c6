package memspot

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// UndroppedBlocksError is the error returned from Registry.Destroy if one or more blocks created from the
// registry have not yet been released
var UndroppedBlocksError error = errors.New("one or more blocks have not been released")

// CorruptionDetectionDisabledError is the error returned from Registry.CheckCorruption when no corruption
// margins are being written, because this binary was built with the memspot_unchecked build tag
var CorruptionDetectionDisabledError error = errors.New("corruption detection is not available in this build")
