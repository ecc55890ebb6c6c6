package memspot

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func alignUp(value uintptr, alignment uintptr) uintptr {
	return (value + alignment - 1) & ^(alignment - 1)
}
