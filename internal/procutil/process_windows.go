//go:build windows

package procutil

import "syscall"

const processQueryLimitedInformation = 0x1000

// IsProcessAlive checks whether a process with the given pid is still running
// by opening a handle with PROCESS_QUERY_LIMITED_INFORMATION.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := syscall.OpenProcess(processQueryLimitedInformation, false, uint32(pid))
	if err != nil {
		return false
	}
	syscall.CloseHandle(h)
	return true
}
