// Package kernelio is the thin ioctl/syscall layer wrapping the
// kernel/userspace interfaces for evdev/hidraw/USB/uinput. It is
// implemented the way the pack's reference repos implement it: direct
// ioctls over golang.org/x/sys/unix, grounded on andrieee44-mylib's
// linux/ioctl and linux/input packages (IOR/IOW request encoding, uapi
// constant tables).
package kernelio

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctlAny performs an ioctl system call, writing/reading *arg in place.
// Grounded on andrieee44-mylib's generic ioctl.Any[T] helper: a raw
// unix.Syscall(SYS_IOCTL, ...) wrapper parameterized over the argument
// type, since x/sys/unix has no typed helper for arbitrary structs.
func ioctlAny[T any](fd int, req uintptr, arg *T) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(unsafe.Pointer(arg)))
	if errno != 0 {
		return errno
	}
	return nil
}

// ioctlBytes performs a variable-length ioctl (EVIOCGNAME/PHYS/UNIQ and the
// hidraw equivalents) into a caller-supplied buffer.
func ioctlBytes(fd int, req uintptr, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

// ioc mirrors the kernel's _IOC macro.
func ioc(dir, typ, nr, size uint) uintptr {
	return uintptr(dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift)
}

// ior mirrors _IOR(type, nr, size).
func ior(typ byte, nr uint, size uintptr) uintptr {
	return ioc(iocRead, uint(typ), nr, uint(size))
}

// iow mirrors _IOW(type, nr, size).
func iow(typ byte, nr uint, size uintptr) uintptr {
	return ioc(iocWrite, uint(typ), nr, uint(size))
}

// iowVarlen mirrors _IOC(_IOC_READ, type, nr, len) used by EVIOCGNAME/PHYS/
// UNIQ/HIDIOCGRAWNAME-family ioctls, which take a caller-supplied buffer
// length rather than a fixed struct size.
func iowVarlen(dir uint, typ byte, nr uint, length uint) uintptr {
	return ioc(dir, uint(typ), nr, length)
}
