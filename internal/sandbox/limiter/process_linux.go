//go:build linux

package limiter

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ApplyProcessLimits installs rlimits on a running process. The CPU limit
// sits one second above the wall limit so the watchdog normally fires first;
// RLIMIT_FSIZE bounds anything the program writes to disk and RLIMIT_AS caps
// the address space of the process and every child it forks later.
func ApplyProcessLimits(pid int, l Limits) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if l.TimeLimit > 0 {
		seconds := uint64(math.Ceil(l.TimeLimit.Seconds())) + 1
		if err := prlimit(pid, unix.RLIMIT_CPU, seconds, seconds+1); err != nil {
			return fmt.Errorf("set rlimit cpu: %w", err)
		}
	}
	if l.OutputBytes > 0 {
		bytes := uint64(l.OutputBytes)
		if err := prlimit(pid, unix.RLIMIT_FSIZE, bytes, bytes); err != nil {
			return fmt.Errorf("set rlimit fsize: %w", err)
		}
	}
	if l.AddressSpaceBytes > 0 {
		bytes := uint64(l.AddressSpaceBytes)
		if err := prlimit(pid, unix.RLIMIT_AS, bytes, bytes); err != nil {
			return fmt.Errorf("set rlimit as: %w", err)
		}
	}
	if err := prlimit(pid, unix.RLIMIT_CORE, 0, 0); err != nil {
		return fmt.Errorf("set rlimit core: %w", err)
	}
	return nil
}

// prlimit treats a process that already exited as nothing left to limit.
func prlimit(pid, resource int, cur, max uint64) error {
	err := unix.Prlimit(pid, resource, &unix.Rlimit{Cur: cur, Max: max}, nil)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// KillProcessGroup sends SIGKILL to the whole process group led by pid.
func KillProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

// ReadGroupUsage sums the resident set size of every live process in the
// process group pgid and counts its members.
func ReadGroupUsage(pgid int) (GroupUsage, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return GroupUsage{}, err
	}
	pageSize := int64(os.Getpagesize())
	var usage GroupUsage
	for _, entry := range entries {
		if _, err := strconv.Atoi(entry.Name()); err != nil {
			continue
		}
		data, err := os.ReadFile("/proc/" + entry.Name() + "/stat")
		if err != nil {
			// Exited between the listing and the read.
			continue
		}
		group, rssPages, ok := parseStat(string(data))
		if !ok || group != pgid {
			continue
		}
		usage.Processes++
		usage.RSSBytes += rssPages * pageSize
	}
	return usage, nil
}

// parseStat extracts the process group and resident pages from a
// /proc/<pid>/stat line. The command name may contain spaces and
// parentheses, so fields are counted from the last ')'.
func parseStat(line string) (pgid int, rssPages int64, ok bool) {
	end := strings.LastIndexByte(line, ')')
	if end < 0 {
		return 0, 0, false
	}
	// state ppid pgrp session tty_nr tpgid flags minflt cminflt majflt
	// cmajflt utime stime cutime cstime priority nice num_threads
	// itrealvalue starttime vsize rss
	fields := strings.Fields(line[end+1:])
	if len(fields) < 22 {
		return 0, 0, false
	}
	pgid, err := strconv.Atoi(fields[2])
	if err != nil {
		return 0, 0, false
	}
	rssPages, err = strconv.ParseInt(fields[21], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return pgid, rssPages, true
}
