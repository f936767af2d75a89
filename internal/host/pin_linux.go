//go:build linux

package host

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinToCore locks the calling goroutine to its OS thread and binds that
// thread to core. The caller keeps the lock for the rest of the role.
func PinToCore(core int) error {
	if core < 0 {
		return nil
	}
	if core >= runtime.NumCPU() {
		return fmt.Errorf("core %d does not exist on a %d thread host", core, runtime.NumCPU())
	}
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("sched_setaffinity to core %d: %w", core, err)
	}
	return nil
}
