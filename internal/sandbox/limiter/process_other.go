//go:build !linux

package limiter

import "errors"

var errUnsupported = errors.New("process limits are only supported on linux")

// ApplyProcessLimits is not available on this platform.
func ApplyProcessLimits(pid int, l Limits) error { return errUnsupported }

// KillProcessGroup is not available on this platform.
func KillProcessGroup(pid int) error { return errUnsupported }

// ReadGroupUsage is not available on this platform.
func ReadGroupUsage(pgid int) (GroupUsage, error) { return GroupUsage{}, errUnsupported }
