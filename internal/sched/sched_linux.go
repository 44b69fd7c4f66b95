//go:build linux

package sched

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ipcam/streamworker/internal/errors"
)

func setRealtime(class Class) error {
	attr := unix.SchedAttr{
		Size:     uint32(unsafe.Sizeof(unix.SchedAttr{})),
		Policy:   unix.SCHED_RR,
		Priority: uint32(Priority(class)),
	}
	if err := unix.SchedSetAttr(unix.Gettid(), &attr, 0); err != nil {
		return errors.New(err).
			Component("sched").
			Category(errors.CategoryScheduling).
			Context("class", class.String()).
			Context("priority", Priority(class)).
			Build()
	}
	return nil
}
