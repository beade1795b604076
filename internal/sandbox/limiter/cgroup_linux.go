//go:build linux

package limiter

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Cgroup is a cgroup v2 leaf created for one run.
type Cgroup struct {
	path string
	dir  *os.File
}

// NewCgroup creates <root>/<group>/<name>-<nanos> and applies limits.
// The returned cgroup must be removed with Close.
func NewCgroup(root, group, name string, l Limits) (*Cgroup, error) {
	if root == "" {
		return nil, fmt.Errorf("cgroup root is required")
	}
	path := filepath.Join(root, group, fmt.Sprintf("%s-%d", name, time.Now().UnixNano()))
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create cgroup: %w", err)
	}
	cg := &Cgroup{path: path}
	if err := cg.apply(l); err != nil {
		_ = cg.Close()
		return nil, err
	}
	dir, err := os.Open(path)
	if err != nil {
		_ = cg.Close()
		return nil, fmt.Errorf("open cgroup: %w", err)
	}
	cg.dir = dir
	return cg, nil
}

func (c *Cgroup) apply(l Limits) error {
	pids := "max"
	if l.PIDs > 0 {
		pids = strconv.FormatInt(l.PIDs, 10)
	}
	if err := c.write("pids.max", pids); err != nil {
		return err
	}
	if l.MemoryBytes > 0 {
		if err := c.write("memory.max", strconv.FormatInt(l.MemoryBytes, 10)); err != nil {
			return err
		}
		// Keep swap out of the picture so memory.max is the real ceiling.
		_ = c.write("memory.swap.max", "0")
	}
	return nil
}

// Path returns the cgroup directory.
func (c *Cgroup) Path() string { return c.path }

// FD returns the directory descriptor for SysProcAttr.CgroupFD.
func (c *Cgroup) FD() int { return int(c.dir.Fd()) }

// Kill kills every process in the cgroup.
func (c *Cgroup) Kill() error {
	return c.write("cgroup.kill", "1")
}

// OOMKilled reports whether the kernel OOM killer fired inside the cgroup.
func (c *Cgroup) OOMKilled() bool {
	data, err := os.ReadFile(filepath.Join(c.path, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "oom_kill" {
			val, _ := strconv.ParseInt(fields[1], 10, 64)
			return val > 0
		}
	}
	return false
}

// PeakBytes returns memory.peak, or memory.current on kernels without it.
func (c *Cgroup) PeakBytes() int64 {
	if val, err := c.readInt("memory.peak"); err == nil {
		return val
	}
	val, _ := c.readInt("memory.current")
	return val
}

// CurrentBytes returns memory.current.
func (c *Cgroup) CurrentBytes() (int64, error) {
	return c.readInt("memory.current")
}

// Close kills leftovers and removes the cgroup directory.
func (c *Cgroup) Close() error {
	if c.dir != nil {
		_ = c.dir.Close()
		c.dir = nil
	}
	_ = c.Kill()
	var err error
	for i := 0; i < 20; i++ {
		if err = os.Remove(c.path); err == nil || os.IsNotExist(err) {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("remove cgroup %s: %w", c.path, err)
}

func (c *Cgroup) readInt(name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(c.path, name))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func (c *Cgroup) write(name, value string) error {
	if err := os.WriteFile(filepath.Join(c.path, name), []byte(value), 0640); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
