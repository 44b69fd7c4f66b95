//go:build !linux

package sched

import "github.com/ipcam/streamworker/internal/errors"

func setRealtime(class Class) error {
	return errors.Newf("real-time scheduling not supported on this platform").
		Component("sched").
		Category(errors.CategoryScheduling).
		Context("class", class.String()).
		Build()
}
