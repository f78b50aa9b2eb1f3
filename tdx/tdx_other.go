//go:build !linux

package tdx

import (
	"errors"
	"unsafe"
)

func sysIoctl(uintptr, uintptr, unsafe.Pointer) error {
	return errors.New("the TDX guest device is only supported on linux")
}
