package client

import (
	"time"

	"github.com/brodyxchen/swmailbox/constant"
	"github.com/brodyxchen/swmailbox/device"
)

type Config struct {
	Device device.Options

	WaitInterval   time.Duration
	JoinTimeout    time.Duration
	ConnectTimeout time.Duration
	ConnectRetries int
}

func (cfg *Config) GetWaitInterval() time.Duration {
	if cfg.WaitInterval > 0 {
		return cfg.WaitInterval
	}
	return constant.WaitInterval
}

func (cfg *Config) GetJoinTimeout() time.Duration {
	if cfg.JoinTimeout > 0 {
		return cfg.JoinTimeout
	}
	return constant.JoinTimeout
}

func (cfg *Config) GetConnectTimeout() time.Duration {
	if cfg.ConnectTimeout > 0 {
		return cfg.ConnectTimeout
	}
	return constant.ConnectTimeout
}

func (cfg *Config) GetConnectRetries() int {
	if cfg.ConnectRetries > 0 {
		return cfg.ConnectRetries
	}
	return constant.ConnectRetries
}
