package server

import (
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"github.com/brodyxchen/swmailbox/device"
	"github.com/brodyxchen/swmailbox/errors"
	"golang.org/x/sys/unix"
)

// Programmer downloads a validated xclbin onto the device behind ch.
type Programmer interface {
	Download(ch *device.Channel, xclbin []byte) error
}

// XCLMGMT_IOCICAPDOWNLOAD_AXLF - _IOW('X', 6, struct xclmgmt_ioc_bitstream_axlf)
// where the struct holds a single pointer to the axlf image.
const icapDownloadAxlf = 0x40085806

// ICAP programs through the mgmt PF node /dev/xclmgmt<instance>.
type ICAP struct {
	MgmtRoot string
}

type bitstreamAxlf struct {
	xclbin unsafe.Pointer
}

func (p *ICAP) Download(ch *device.Channel, xclbin []byte) error {
	if len(xclbin) == 0 {
		return errors.ErrInvalidRequest
	}
	instance, err := ch.Instance()
	if err != nil {
		return errors.Wrap(errors.StatusNoDevice, err)
	}

	f, err := os.OpenFile(filepath.Join(p.MgmtRoot, "xclmgmt"+instance), os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(errors.StatusNoDevice, err)
	}
	defer f.Close()

	arg := &bitstreamAxlf{xclbin: unsafe.Pointer(&xclbin[0])}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), icapDownloadAxlf, uintptr(unsafe.Pointer(arg)))
	runtime.KeepAlive(arg)
	runtime.KeepAlive(xclbin)
	if errno != 0 {
		return errno
	}
	return nil
}
