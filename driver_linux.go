package kdtransport

import (
	"context"
	"errors"
	"syscall"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
)

// Ioctl request codes for the local kernel-helper device node the
// debuggee side talks to. Magic 'K' mirrors this package's own wire
// Indicator; numbering otherwise follows the same _IOW/_IO pattern
// ioctl_linux.go already uses for the termios2 codes.
var (
	kdPrepareDebuggee  = ioctl.IOW('K', 0x01, unsafe.Sizeof(prepareDebuggeeArg{}))
	kdCommandFinished  = ioctl.IO('K', 0x02)
	kdUsermodeMessages = ioctl.IOW('K', 0x03, unsafe.Sizeof(usermodeMessageArg{}))
)

// prepareDebuggeeArg is the fixed-size argument PrepareDebuggee passes
// through kdPrepareDebuggee; osName is truncated/zero-padded to fit.
type prepareDebuggeeArg struct {
	Port   uint32
	Baud   uint32
	OSName [64]byte
}

// usermodeMessageArg passes a usermode print buffer by pointer/length,
// the same shape the kernel helper expects for any variable-length
// payload.
type usermodeMessageArg struct {
	Ptr uintptr
	Len uint32
	_   uint32 // padding to keep the struct 8-byte aligned on amd64
}

// IoctlDriverChannel is the concrete DriverChannel for the debuggee
// side: it opens the kernel helper's device node and issues ioctls on
// it, the same way serialport_linux.go drives a tty fd via
// github.com/daedaluz/goioctl.
type IoctlDriverChannel struct {
	fd int
}

// OpenIoctlDriverChannel opens devicePath (typically something under
// /dev created by the hypervisor's kernel module) for the three
// DriverChannel operations.
func OpenIoctlDriverChannel(devicePath string) (*IoctlDriverChannel, error) {
	fd, err := syscall.Open(devicePath, syscall.O_RDWR, 0)
	if err != nil {
		return nil, newErr(KindDriverNotLoaded, "open "+devicePath, err)
	}
	return &IoctlDriverChannel{fd: fd}, nil
}

func (d *IoctlDriverChannel) PrepareDebuggee(ctx context.Context, port uint32, baud uint32, osName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	arg := prepareDebuggeeArg{Port: port, Baud: baud}
	copy(arg.OSName[:], osName)
	if err := ioctl.Ioctl(uintptr(d.fd), kdPrepareDebuggee, uintptr(unsafe.Pointer(&arg))); err != nil {
		return newIoctlErr("prepare debuggee", errnoCode(err), err)
	}
	return nil
}

func (d *IoctlDriverChannel) SendCommandExecutionFinished(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ioctl.Ioctl(uintptr(d.fd), kdCommandFinished, 0); err != nil {
		return newIoctlErr("command execution finished", errnoCode(err), err)
	}
	return nil
}

func (d *IoctlDriverChannel) SendUsermodeMessages(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg) == 0 {
		return nil
	}
	arg := usermodeMessageArg{
		Ptr: uintptr(unsafe.Pointer(&msg[0])),
		Len: uint32(len(msg)),
	}
	if err := ioctl.Ioctl(uintptr(d.fd), kdUsermodeMessages, uintptr(unsafe.Pointer(&arg))); err != nil {
		return newIoctlErr("send usermode messages", errnoCode(err), err)
	}
	return nil
}

func (d *IoctlDriverChannel) Close() error {
	return syscall.Close(d.fd)
}

// errnoCode extracts the raw errno from err if it is (or wraps) a
// syscall.Errno, for inclusion in *Error.Code.
func errnoCode(err error) int {
	var errno syscall.Errno
	errors.As(err, &errno)
	return int(errno)
}
