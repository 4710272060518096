package kdtransport

import (
	ioctl "github.com/daedaluz/goioctl"
	"unsafe"
)

// ioctl request codes this package actually issues: termios get/set via
// the wide (BOTHER-capable) Termios2 API, queue purge, and the
// pseudo-terminal setup used by the test harness's OpenPTYPair.
var (
	tcgets2 = ioctl.IOR('T', 0x2A, unsafe.Sizeof(Termios2{}))
	tcsets2 = ioctl.IOW('T', 0x2B, unsafe.Sizeof(Termios2{}))

	tcflsh = uintptr(0x540B)

	tiocsptlck  = ioctl.IOW('T', 0x31, unsafe.Sizeof(int32(0)))
	tiocgptpeer = ioctl.IO('T', 0x41)
)
