package btrfsioctl

import (
	"errors"
	"os"

	"github.com/btrdedup/btrdedup/pkg/outcome"
	"golang.org/x/sys/unix"
)

// Classify maps a raw ioctl/syscall error to the outcome.Kind the rest of
// the pipeline reasons about. Unrecognized errors classify as IoError.
func Classify(err error) outcome.Kind {
	if err == nil {
		return outcome.OK
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, unix.ENOENT) {
		return outcome.Vanished
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return outcome.Permission
	}
	if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		return outcome.Unsupported
	}
	return outcome.IoError
}
