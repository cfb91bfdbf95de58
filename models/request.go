package models

import (
	"encoding/binary"
	"strconv"

	"github.com/brodyxchen/swmailbox/errors"
)

type RequestKind uint32

const (
	ReqUnknown         RequestKind = 0
	ReqTestReady       RequestKind = 1
	ReqTestRead        RequestKind = 2
	ReqLockBitstream   RequestKind = 3
	ReqUnlockBitstream RequestKind = 4
	ReqHotReset        RequestKind = 5
	ReqFirewall        RequestKind = 6
	ReqLoadXclbinKaddr RequestKind = 7
	ReqLoadXclbin      RequestKind = 8
	ReqReclock         RequestKind = 9
	ReqPeerData        RequestKind = 10
	ReqUserProbe       RequestKind = 11
	ReqMgmtState       RequestKind = 12
	ReqChgShell        RequestKind = 13
	ReqProgramShell    RequestKind = 14
	ReqReadP2PBarAddr  RequestKind = 15
	reqMax             RequestKind = 16
)

var requestNames = [...]string{
	ReqUnknown:         "unknown",
	ReqTestReady:       "test_ready",
	ReqTestRead:        "test_read",
	ReqLockBitstream:   "lock_bitstream",
	ReqUnlockBitstream: "unlock_bitstream",
	ReqHotReset:        "hot_reset",
	ReqFirewall:        "firewall",
	ReqLoadXclbinKaddr: "load_xclbin_kaddr",
	ReqLoadXclbin:      "load_xclbin",
	ReqReclock:         "reclock",
	ReqPeerData:        "peer_data",
	ReqUserProbe:       "user_probe",
	ReqMgmtState:       "mgmt_state",
	ReqChgShell:        "chg_shell",
	ReqProgramShell:    "program_shell",
	ReqReadP2PBarAddr:  "read_p2p_bar_addr",
}

func (k RequestKind) Known() bool {
	return k > ReqUnknown && k < reqMax
}

func (k RequestKind) String() string {
	if k < reqMax {
		return requestNames[k]
	}
	return "request(" + strconv.FormatUint(uint64(k), 10) + ")"
}

// RequestHeaderSize is the fixed prefix of a request payload: u64 flags, u32 req.
const RequestHeaderSize = 12

type MailboxRequest struct {
	Flags uint64
	Kind  RequestKind
	Data  []byte
}

// ParseRequest extracts the request header from an envelope payload. The
// kind is returned as-is; callers check Known.
func ParseRequest(payload []byte) (*MailboxRequest, error) {
	if len(payload) < RequestHeaderSize {
		return nil, errors.ErrInvalidRequest
	}
	return &MailboxRequest{
		Flags: binary.LittleEndian.Uint64(payload),
		Kind:  RequestKind(binary.LittleEndian.Uint32(payload[8:])),
		Data:  payload[RequestHeaderSize:],
	}, nil
}

func NewRequest(kind RequestKind, data []byte) []byte {
	buf := make([]byte, RequestHeaderSize+len(data))
	binary.LittleEndian.PutUint32(buf[8:], uint32(kind))
	copy(buf[RequestHeaderSize:], data)
	return buf
}

// StatusCode reads the i32 return code of a status-only response.
func StatusCode(payload []byte) (int32, bool) {
	if len(payload) != 4 {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(payload)), true
}

const (
	StateOnline  = uint64(1 << 0)
	StateOffline = uint64(1 << 1)
)

// NewMgmtState builds the MGMT_STATE request payload announcing the daemon.
func NewMgmtState(online bool) []byte {
	data := make([]byte, 8)
	state := StateOffline
	if online {
		state = StateOnline
	}
	binary.LittleEndian.PutUint64(data, state)
	return NewRequest(ReqMgmtState, data)
}

func ParseMgmtState(data []byte) (online bool, err error) {
	if len(data) < 8 {
		return false, errors.ErrInvalidRequest
	}
	return binary.LittleEndian.Uint64(data)&StateOnline != 0, nil
}

const (
	PeerReady      = uint64(1 << 0)
	PeerSameDomain = uint64(1 << 1)

	ProtocolVersion = 1

	commIDSize       = 256
	ConnResponseSize = 32 + commIDSize
)

// NewConnResponse is the USER_PROBE reply announcing a ready peer.
func NewConnResponse(chanSwitch uint64) []byte {
	buf := make([]byte, ConnResponseSize)
	binary.LittleEndian.PutUint64(buf, ProtocolVersion)
	binary.LittleEndian.PutUint64(buf[8:], PeerReady)
	binary.LittleEndian.PutUint64(buf[16:], chanSwitch)
	return buf
}

const FreqScalingSize = 10

// FreqScaling is the RECLOCK body: target region and up to four clock
// frequencies in MHz.
type FreqScaling struct {
	Region uint16
	Freqs  [4]uint16
}

func ParseFreqScaling(data []byte) (*FreqScaling, error) {
	if len(data) < FreqScalingSize {
		return nil, errors.ErrInvalidRequest
	}
	fs := &FreqScaling{Region: binary.LittleEndian.Uint16(data)}
	for i := range fs.Freqs {
		fs.Freqs[i] = binary.LittleEndian.Uint16(data[2+2*i:])
	}
	return fs, nil
}
