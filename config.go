package kdtransport

import "time"

// Options configures a connection's lifecycle bring-up. Parameters are
// supplied programmatically through fluent setters; this module has no
// on-disk configuration surface.
type Options struct {
	Role Role
	Link LinkKind

	SerialDevice string
	BaudRate     uint32

	PipePath string

	DriverDevicePath string

	PollInterval time.Duration
}

// NewOptions returns Options defaulting to a 115200 baud serial link
// and the poll interval cancelableSerialTransport already uses.
func NewOptions() *Options {
	return &Options{
		Link:         LinkSerial,
		BaudRate:     115200,
		PollInterval: pollInterval,
	}
}

func (o *Options) SetRole(r Role) *Options {
	o.Role = r
	return o
}

func (o *Options) SetSerial(device string, baud uint32) *Options {
	o.Link = LinkSerial
	o.SerialDevice = device
	o.BaudRate = baud
	return o
}

func (o *Options) SetNamedPipe(path string) *Options {
	o.Link = LinkNamedPipe
	o.PipePath = path
	return o
}

func (o *Options) SetDriverDevicePath(path string) *Options {
	o.DriverDevicePath = path
	return o
}

func (o *Options) SetPollInterval(d time.Duration) *Options {
	o.PollInterval = d
	return o
}
