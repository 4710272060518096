package kdtransport

import (
	"syscall"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
)

// OpenPTYPair opens a pseudo-terminal master/slave pair and puts both
// ends in raw 8N1 mode. It exists for this package's own tests: a PTY
// pair behaves like the two ends of a physical serial cable without
// needing real hardware, so serialTransport and cancelableSerialTransport
// can be exercised end-to-end. The master-unlock and peer-fd steps are
// the standard Linux ptmx sequence.
func OpenPTYPair() (master, slave *Port, err error) {
	fd, err := syscall.Open("/dev/ptmx", syscall.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, nil, newErr(KindTransportBroken, "open /dev/ptmx", err)
	}
	m := &Port{fd: fd}

	var unlock int32
	if err := ioctl.Ioctl(uintptr(fd), tiocsptlck, uintptr(unsafe.Pointer(&unlock))); err != nil {
		m.Close()
		return nil, nil, newErr(KindTransportBroken, "tiocsptlck", err)
	}

	peerFd, err := ioctlPeerFd(fd, syscall.O_RDWR|syscall.O_NOCTTY)
	if err != nil {
		m.Close()
		return nil, nil, err
	}
	s := &Port{fd: peerFd}

	for _, p := range []*Port{m, s} {
		attrs, err := p.getAttr2()
		if err != nil {
			m.Close()
			s.Close()
			return nil, nil, err
		}
		attrs.MakeRaw()
		if err := p.setAttr2(attrs); err != nil {
			m.Close()
			s.Close()
			return nil, nil, err
		}
	}

	return m, s, nil
}

func ioctlPeerFd(masterFd int, flags int) (int, error) {
	// TIOCGPTPEER is unusual: the kernel hands back the new slave fd as
	// the ioctl syscall's own return value (with flags as its argument)
	// rather than writing through a pointer argument, so this bypasses
	// goioctl.Ioctl (which discards the return value) for a direct
	// syscall, same as the rest of this package's raw fd handling.
	r1, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(masterFd), tiocgptpeer, uintptr(flags))
	if errno != 0 {
		return 0, newErr(KindTransportBroken, "tiocgptpeer", errno)
	}
	return int(r1), nil
}
