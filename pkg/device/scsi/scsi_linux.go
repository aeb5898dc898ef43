//go:build linux

package scsi

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/marmos91/dittotape/pkg/device"
)

const (
	ioctlMTIOCTOP = 0x40086d01
	ioctlMTIOCGET = 0x80306d02
)

type mtop struct {
	op    int16
	_     int16
	count int32
}

type mtget struct {
	typ    int64
	resid  int64
	dsreg  int64
	gstat  int64
	erreg  int64
	fileno int32
	blkno  int32
}

func classify(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	switch errno {
	case unix.ENOMEM:
		return device.ErrRecordTooLarge
	case unix.ENOSPC:
		return device.ErrEndOfMedia
	case unix.EBUSY, unix.ENXIO:
		return fmt.Errorf("%w: %v", device.ErrNotReady, errno)
	case unix.ENOMEDIUM:
		return fmt.Errorf("%w: %v", device.ErrOffline, errno)
	case unix.EROFS, unix.EACCES:
		return fmt.Errorf("%w: %v", device.ErrWriteProtected, errno)
	case unix.ENOTTY, unix.EINVAL:
		return fmt.Errorf("%w: %v", device.ErrNotSupported, errno)
	default:
		return fmt.Errorf("%w: %v", device.ErrIO, errno)
	}
}

func sysOpen(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if errors.Is(err, unix.EROFS) || errors.Is(err, unix.EACCES) {
		fd, err = unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	}
	if err != nil {
		if errors.Is(err, unix.EIO) {
			return -1, fmt.Errorf("%w: %v", device.ErrNotReady, err)
		}
		return -1, classify(err)
	}
	return fd, nil
}

func sysClose(fd int) error {
	return unix.Close(fd)
}

func sysRead(fd int, p []byte) (int, error) {
	n, err := unix.Read(fd, p)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func sysWrite(fd int, p []byte) (int, error) {
	n, err := unix.Write(fd, p)
	if err != nil {
		return n, classify(err)
	}
	return n, nil
}

func sysMtop(fd int, op int16, count int) error {
	arg := mtop{op: op, count: int32(count)}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ioctlMTIOCTOP, uintptr(unsafe.Pointer(&arg)))
	if errno != 0 {
		return classify(errno)
	}
	return nil
}

func sysStatus(fd int) (device.Status, error) {
	var g mtget
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ioctlMTIOCGET, uintptr(unsafe.Pointer(&g)))
	if errno != 0 {
		return device.Status{}, classify(errno)
	}
	return statusFromGstat(uint64(g.gstat), uint64(g.dsreg), g.fileno, g.blkno), nil
}
