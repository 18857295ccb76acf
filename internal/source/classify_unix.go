//go:build unix

package source

import (
	"errors"

	"golang.org/x/sys/unix"

	"firestige.xyz/netdash/internal/core"
)

func errnoClass(err error) error {
	switch {
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return core.ErrPermissionDenied
	case errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
		return core.ErrInterfaceNotFound
	default:
		return nil
	}
}
