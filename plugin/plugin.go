// Package plugin is the vendor policy layer. A vendor that owns the mailbox
// channel itself (no msd on the other end) implements Plugin and answers
// requests from the user PF directly.
package plugin

import (
	"net"

	"github.com/brodyxchen/swmailbox/errors"
	"github.com/brodyxchen/swmailbox/models"
)

// Plugin is the hook table. Every hook receives the device index and
// returns nil, a syscall.Errno or errors.ErrNotSupported. Hooks may block;
// they run on the device's processor goroutine.
type Plugin interface {
	// RemoteConn takes over the channel for device index. The returned
	// conn may be nil when the vendor has no peer at all. ErrNotSupported
	// keeps the default msd channel.
	RemoteConn(index int) (net.Conn, error)

	// MgmtState is told when the daemon starts and stops serving a device.
	MgmtState(index int, online bool) error

	LoadXclbin(index int, xclbin *models.Xclbin) error
	PeerData(index int, req *models.PeerRequest) ([]byte, error)
	LockBitstream(index int) error
	UnlockBitstream(index int) error
	HotReset(index int) error
	Reclock(index int, freq *models.FreqScaling) error
	ProgramShell(index int) error
	ReadP2PBarAddr(index int, data []byte) error

	// RetrieveXclbin lets msd swap the xclbin it received from the peer
	// for the one to program, e.g. a signed copy fetched by id.
	RetrieveXclbin(index int, orig []byte) ([]byte, error)

	Fini()
}

// Unsupported answers every hook with ErrNotSupported. Vendors embed it and
// override what they implement.
type Unsupported struct{}

var _ Plugin = Unsupported{}

func (Unsupported) RemoteConn(int) (net.Conn, error) {
	return nil, errors.ErrNotSupported
}

func (Unsupported) MgmtState(int, bool) error {
	return errors.ErrNotSupported
}

func (Unsupported) LoadXclbin(int, *models.Xclbin) error {
	return errors.ErrNotSupported
}

func (Unsupported) PeerData(int, *models.PeerRequest) ([]byte, error) {
	return nil, errors.ErrNotSupported
}

func (Unsupported) LockBitstream(int) error {
	return errors.ErrNotSupported
}

func (Unsupported) UnlockBitstream(int) error {
	return errors.ErrNotSupported
}

func (Unsupported) HotReset(int) error {
	return errors.ErrNotSupported
}

func (Unsupported) Reclock(int, *models.FreqScaling) error {
	return errors.ErrNotSupported
}

func (Unsupported) ProgramShell(int) error {
	return errors.ErrNotSupported
}

func (Unsupported) ReadP2PBarAddr(int, []byte) error {
	return errors.ErrNotSupported
}

func (Unsupported) RetrieveXclbin(_ int, orig []byte) ([]byte, error) {
	return orig, errors.ErrNotSupported
}

func (Unsupported) Fini() {}
