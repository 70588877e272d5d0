// Package pidfile tracks running burrow daemons in a shared, flocked
// JSON file so ps/kill/killall can find them across invocations.
package pidfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const trackingFile = "/tmp/.burrow"

// processName guards against recycled PIDs: a tracked PID only counts
// when the process behind it still looks like one of ours.
const processName = "burrow"

// killWait bounds how long Kill and KillAll wait for SIGTERM to land
// before escalating to SIGKILL.
const killWait = 5 * time.Second

type trackFile struct {
	PIDs []int32 `json:"pids"`
}

var mu sync.Mutex

// withTracked opens and locks the tracking file, prunes dead entries,
// and hands the surviving PIDs to fn.
func withTracked(flags int, fn func(*os.File, []int32) error) error {
	if err := os.MkdirAll(filepath.Dir(trackingFile), 0755); err != nil {
		return fmt.Errorf("failed to create tracking directory: %w", err)
	}

	file, err := os.OpenFile(trackingFile, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open tracking file: %w", err)
	}
	defer file.Close()

	if err := lockFile(file); err != nil {
		return err
	}
	defer unlockFile(file)

	var tracked trackFile
	if stat, err := file.Stat(); err != nil {
		return err
	} else if stat.Size() > 0 {
		// A truncated or garbled file is treated as empty rather than
		// wedging every subsequent command.
		_ = json.NewDecoder(file).Decode(&tracked)
	}

	alive, err := pruneDead(file, tracked.PIDs)
	if err != nil {
		return err
	}
	return fn(file, alive)
}

// isOurs reports whether pid is a live process of this daemon.
func isOurs(pid int32) bool {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return false
	}
	if running, err := proc.IsRunning(); err != nil || !running {
		return false
	}
	name, err := proc.Name()
	if err != nil {
		return false
	}
	return strings.Contains(name, processName)
}

func rewrite(file *os.File, pids []int32) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.Seek(0, 0); err != nil {
		return err
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(trackFile{PIDs: pids})
}

// pruneDead drops entries whose process is gone or was recycled, and
// rewrites the file when anything changed.
func pruneDead(file *os.File, pids []int32) ([]int32, error) {
	alive := []int32{}
	for _, pid := range pids {
		if isOurs(pid) {
			alive = append(alive, pid)
		}
	}
	if len(alive) != len(pids) {
		if err := rewrite(file, alive); err != nil {
			return nil, err
		}
		if _, err := file.Seek(0, 0); err != nil {
			return nil, err
		}
	}
	return alive, nil
}

// Register adds the current process to the tracking file. Idempotent.
func Register() error {
	mu.Lock()
	defer mu.Unlock()

	self := int32(os.Getpid())
	return withTracked(os.O_RDWR|os.O_CREATE, func(file *os.File, pids []int32) error {
		for _, pid := range pids {
			if pid == self {
				return nil
			}
		}
		return rewrite(file, append(pids, self))
	})
}

// Unregister removes the current process from the tracking file.
func Unregister() error {
	mu.Lock()
	defer mu.Unlock()

	self := int32(os.Getpid())
	return withTracked(os.O_RDWR, func(file *os.File, pids []int32) error {
		return rewrite(file, without(pids, self))
	})
}

// List returns the PIDs of every verified running daemon.
func List() ([]int32, error) {
	mu.Lock()
	defer mu.Unlock()

	var result []int32
	err := withTracked(os.O_RDWR|os.O_CREATE, func(file *os.File, pids []int32) error {
		result = pids
		return nil
	})
	return result, err
}

// Kill terminates one tracked daemon: SIGTERM, a bounded wait, then
// SIGKILL if it is still up.
func Kill(pid int32) error {
	mu.Lock()
	defer mu.Unlock()

	if !isOurs(pid) {
		return fmt.Errorf("PID %d is not a running %s process", pid, processName)
	}
	proc, err := process.NewProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to open process: %w", err)
	}

	if err := proc.Terminate(); err != nil {
		if err := proc.Kill(); err != nil {
			return fmt.Errorf("failed to kill process: %w", err)
		}
	} else if !waitForExit(proc, killWait) {
		if err := proc.Kill(); err != nil {
			return fmt.Errorf("failed to force kill process: %w", err)
		}
	}

	// Best effort: the entry would be pruned on the next command anyway.
	_ = withTracked(os.O_RDWR, func(file *os.File, pids []int32) error {
		return rewrite(file, without(pids, pid))
	})
	return nil
}

// KillAll terminates every tracked daemon and returns how many were
// signalled.
func KillAll() (int, error) {
	mu.Lock()
	defer mu.Unlock()

	var targets []int32
	err := withTracked(os.O_RDWR|os.O_CREATE, func(file *os.File, pids []int32) error {
		targets = pids
		return rewrite(file, []int32{})
	})
	if err != nil {
		return 0, err
	}

	pending := make(map[int32]*process.Process)
	for _, pid := range targets {
		proc, err := process.NewProcess(pid)
		if err != nil {
			continue
		}
		if err := proc.Terminate(); err == nil {
			pending[pid] = proc
		}
	}

	deadline := time.Now().Add(killWait)
	for len(pending) > 0 && time.Now().Before(deadline) {
		for pid, proc := range pending {
			if running, err := proc.IsRunning(); err != nil || !running {
				delete(pending, pid)
			}
		}
		if len(pending) > 0 {
			time.Sleep(100 * time.Millisecond)
		}
	}
	for _, proc := range pending {
		proc.Kill()
	}

	return len(targets), nil
}

// GetProcessInfo returns the command line for a tracked PID, for the
// long form of ps output.
func GetProcessInfo(pid int32) (int32, string, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return 0, "", err
	}
	cmdline, err := proc.Cmdline()
	if err != nil {
		return pid, "", nil
	}
	return pid, cmdline, nil
}

func without(pids []int32, drop int32) []int32 {
	kept := []int32{}
	for _, pid := range pids {
		if pid != drop {
			kept = append(kept, pid)
		}
	}
	return kept
}

func waitForExit(proc *process.Process, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if running, err := proc.IsRunning(); err != nil || !running {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	running, err := proc.IsRunning()
	return err != nil || !running
}
