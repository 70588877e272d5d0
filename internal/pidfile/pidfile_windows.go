//go:build windows

package pidfile

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

var (
	kernel32       = syscall.NewLazyDLL("kernel32.dll")
	procLockFile   = kernel32.NewProc("LockFileEx")
	procUnlockFile = kernel32.NewProc("UnlockFileEx")
)

const lockfileExclusiveLock = 0x00000002

// lockFile takes an exclusive LockFileEx lock on the first byte of the
// tracking file, the Windows counterpart of flock.
func lockFile(file *os.File) error {
	ol := syscall.Overlapped{}
	r1, _, err := procLockFile.Call(
		uintptr(file.Fd()),
		uintptr(lockfileExclusiveLock),
		0,
		1, 0,
		uintptr(unsafe.Pointer(&ol)),
	)
	if r1 == 0 {
		return fmt.Errorf("failed to lock pid file: %w", err)
	}
	return nil
}

func unlockFile(file *os.File) error {
	ol := syscall.Overlapped{}
	r1, _, err := procUnlockFile.Call(
		uintptr(file.Fd()),
		0,
		1, 0,
		uintptr(unsafe.Pointer(&ol)),
	)
	if r1 == 0 {
		return err
	}
	return nil
}
