package models

import (
	"net"
	"strconv"
	"strings"
)

// VSockPrefix marks a peer host reachable over AF_VSOCK, e.g. "vsock:2".
const VSockPrefix = "vsock:"

type Addr interface {
	GetAddr() string
}

type VSockAddr struct {
	ContextId uint32
	Port      uint32
}

func (va *VSockAddr) GetAddr() string {
	return strconv.FormatUint(uint64(va.ContextId), 10) + ":" + strconv.FormatUint(uint64(va.Port), 10)
}

type TcpAddr struct {
	IP   string
	Port uint32
}

func (ta *TcpAddr) GetAddr() string {
	return net.JoinHostPort(ta.IP, strconv.FormatUint(uint64(ta.Port), 10))
}

// ParseAddr turns the host/port pair published in sysfs into an Addr.
// Plain hosts are returned unresolved in a TcpAddr.
func ParseAddr(host string, port uint16) (Addr, error) {
	if strings.HasPrefix(host, VSockPrefix) {
		cid, err := strconv.ParseUint(strings.TrimPrefix(host, VSockPrefix), 10, 32)
		if err != nil {
			return nil, err
		}
		return &VSockAddr{ContextId: uint32(cid), Port: uint32(port)}, nil
	}
	return &TcpAddr{IP: host, Port: uint32(port)}, nil
}
