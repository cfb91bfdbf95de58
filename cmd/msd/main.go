// Command msd publishes a listen address on every mgmt PF and relays the
// software mailbox to the mpd that connects.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/brodyxchen/swmailbox/config"
	"github.com/brodyxchen/swmailbox/constant"
	"github.com/brodyxchen/swmailbox/device"
	"github.com/brodyxchen/swmailbox/log"
	"github.com/brodyxchen/swmailbox/plugin"
	"github.com/brodyxchen/swmailbox/server"
	"github.com/brodyxchen/swmailbox/statistics"
	"github.com/brodyxchen/swmailbox/status"
)

func main() {
	os.Exit(run())
}

func run() int {
	path := flag.String("config", constant.MsdConfigPath, "config file")
	foreground := flag.Bool("foreground", false, "also log to stderr")
	flag.Parse()

	if *foreground {
		log.SetWriter(os.Stderr)
	}

	cfg, err := config.Load(*path)
	if err != nil {
		log.Errorf("msd: %v", err)
		return 1
	}
	log.SetLevel(cfg.GetLogLevel())
	log.Info("started")
	defer log.Info("ended")

	plugins, err := plugin.Load(cfg.GetPluginPath(constant.MsdPluginPath))
	if err != nil {
		log.Errorf("msd: %v, running without plugin", err)
	}
	defer plugins.Close()

	statistics.Enable = cfg.Metrics
	statistics.Run("msd", cfg.GetMetricsInterval())
	defer statistics.Close()

	srv := server.New(&server.Config{
		Device: device.Options{
			SysfsRoot: cfg.GetSysfsRoot(),
			DevRoot:   cfg.GetDevRoot(),
		},
		MgmtRoot:      cfg.GetMgmtRoot(),
		ListenHost:    cfg.GetListenHost(),
		ListenPort:    cfg.ListenPort,
		ChannelSwitch: cfg.ChannelSwitch,
		WaitInterval:  cfg.GetWaitInterval(),
	}, plugins)
	if cfg.RedisAddr != "" {
		srv.Status = status.New(cfg.RedisAddr, "msd")
		defer srv.Status.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err = srv.Run(ctx); err != nil {
		log.Errorf("msd: %v", err)
		return 1
	}
	return 0
}
