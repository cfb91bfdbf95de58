package models

import (
	"encoding/binary"
	"strconv"

	"github.com/brodyxchen/swmailbox/errors"
)

type PeerKind uint32

const (
	PeerSensor PeerKind = iota
	PeerICAP
	PeerBoardInfo
	PeerMigEcc
	PeerFirewall
	PeerDNA
	PeerSubdev
	peerMax
)

var peerNames = [...]string{
	PeerSensor:    "sensor",
	PeerICAP:      "icap",
	PeerBoardInfo: "board_info",
	PeerMigEcc:    "mig_ecc",
	PeerFirewall:  "firewall",
	PeerDNA:       "dna",
	PeerSubdev:    "subdev",
}

func (k PeerKind) Known() bool {
	return k < peerMax
}

func (k PeerKind) String() string {
	if k < peerMax {
		return peerNames[k]
	}
	return "peer(" + strconv.FormatUint(uint64(k), 10) + ")"
}

const (
	PeerRequestSize = 32

	// MigEccEntrySize is the size of one ECC record carried by MIG_ECC.
	MigEccEntrySize = 64
)

// PeerRequest is the PEER_DATA body: u32 kind, u32 pad, u64 size,
// u64 entries, u64 offset, followed by optional entry data.
type PeerRequest struct {
	Kind    PeerKind
	Size    uint64
	Entries uint64
	Offset  uint64
	Data    []byte
}

func ParsePeerRequest(data []byte) (*PeerRequest, error) {
	if len(data) < PeerRequestSize {
		return nil, errors.ErrInvalidRequest
	}
	pr := &PeerRequest{
		Kind:    PeerKind(binary.LittleEndian.Uint32(data)),
		Size:    binary.LittleEndian.Uint64(data[8:]),
		Entries: binary.LittleEndian.Uint64(data[16:]),
		Offset:  binary.LittleEndian.Uint64(data[24:]),
		Data:    data[PeerRequestSize:],
	}

	if pr.Kind == PeerMigEcc {
		// entries is attacker controlled, avoid overflow before comparing
		if pr.Entries > uint64(len(pr.Data))/MigEccEntrySize {
			return nil, errors.ErrInvalidRequest
		}
	}
	return pr, nil
}

func (pr *PeerRequest) Encode() []byte {
	buf := make([]byte, PeerRequestSize+len(pr.Data))
	binary.LittleEndian.PutUint32(buf, uint32(pr.Kind))
	binary.LittleEndian.PutUint64(buf[8:], pr.Size)
	binary.LittleEndian.PutUint64(buf[16:], pr.Entries)
	binary.LittleEndian.PutUint64(buf[24:], pr.Offset)
	copy(buf[PeerRequestSize:], pr.Data)
	return buf
}
