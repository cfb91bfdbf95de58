package server

import (
	"time"

	"github.com/brodyxchen/swmailbox/constant"
	"github.com/brodyxchen/swmailbox/device"
)

// VSockHost as listen host makes msd listen on AF_VSOCK.
const VSockHost = "vsock"

type Config struct {
	Device device.Options

	MgmtRoot string

	// ListenHost is published to the peer; ListenPort 0 picks a free port
	// per device, otherwise device i listens on ListenPort+i.
	ListenHost    string
	ListenPort    uint16
	ChannelSwitch uint64

	WaitInterval time.Duration
}

func (cfg *Config) GetWaitInterval() time.Duration {
	if cfg.WaitInterval > 0 {
		return cfg.WaitInterval
	}
	return constant.WaitInterval
}

func (cfg *Config) GetMgmtRoot() string {
	if cfg.MgmtRoot != "" {
		return cfg.MgmtRoot
	}
	return constant.MgmtRoot
}

func (cfg *Config) GetListenHost() string {
	if cfg.ListenHost != "" {
		return cfg.ListenHost
	}
	return "localhost"
}
