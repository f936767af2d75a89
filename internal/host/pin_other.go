//go:build !linux

package host

import "fmt"

func PinToCore(core int) error {
	if core < 0 {
		return nil
	}
	return fmt.Errorf("cpu pinning is only supported on linux")
}
