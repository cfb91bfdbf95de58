package constant

import "time"

const (
	// WaitInterval bounds every blocking wait so that shutdown is noticed.
	WaitInterval = 3 * time.Second

	JoinTimeout = 10 * time.Second

	ConnectTimeout = 5 * time.Second
	ConnectRetries = 3

	HandshakeTimeout = 5 * time.Second

	MetricsInterval = time.Minute

	MaxReadBufferSize  = 4 << 10
	MaxWriteBufferSize = 4 << 10

	// MaxPayloadSize caps a single envelope; an xclbin may be a few hundred MB.
	MaxPayloadSize = 1 << 30
)

const (
	SysfsRoot = "/sys/bus/pci/devices"
	DevRoot   = "/dev/xfpga"
	MgmtRoot  = "/dev"

	UserDriver = "xocl"
	MgmtDriver = "xclmgmt"

	MpdPluginPath = "/opt/xilinx/xrt/lib/libmpd_plugin.so"
	MsdPluginPath = "/opt/xilinx/xrt/lib/libmsd_plugin.so"

	MpdConfigPath = "/etc/xilinx/mpd.conf"
	MsdConfigPath = "/etc/xilinx/msd.conf"
)
