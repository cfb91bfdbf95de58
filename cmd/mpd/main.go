// Command mpd relays the software mailbox of every user PF to the msd that
// owns the matching mgmt PF, or to a vendor plugin.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/brodyxchen/swmailbox/client"
	"github.com/brodyxchen/swmailbox/config"
	"github.com/brodyxchen/swmailbox/constant"
	"github.com/brodyxchen/swmailbox/device"
	"github.com/brodyxchen/swmailbox/hotplug"
	"github.com/brodyxchen/swmailbox/log"
	"github.com/brodyxchen/swmailbox/plugin"
	"github.com/brodyxchen/swmailbox/statistics"
	"github.com/brodyxchen/swmailbox/status"
)

func main() {
	os.Exit(run())
}

func run() int {
	path := flag.String("config", constant.MpdConfigPath, "config file")
	foreground := flag.Bool("foreground", false, "also log to stderr")
	flag.Parse()

	if *foreground {
		log.SetWriter(os.Stderr)
	}

	cfg, err := config.Load(*path)
	if err != nil {
		log.Errorf("mpd: %v", err)
		return 1
	}
	log.SetLevel(cfg.GetLogLevel())
	log.Info("started")
	defer log.Info("ended")

	plugins, err := plugin.Load(cfg.GetPluginPath(constant.MpdPluginPath))
	if err != nil {
		log.Errorf("mpd: %v, running without plugin", err)
	}
	defer plugins.Close()

	statistics.Enable = cfg.Metrics
	statistics.Run("mpd", cfg.GetMetricsInterval())
	defer statistics.Close()

	cli := client.New(&client.Config{
		Device: device.Options{
			SysfsRoot: cfg.GetSysfsRoot(),
			DevRoot:   cfg.GetDevRoot(),
		},
		WaitInterval:   cfg.GetWaitInterval(),
		JoinTimeout:    cfg.GetJoinTimeout(),
		ConnectTimeout: cfg.GetConnectTimeout(),
		ConnectRetries: cfg.GetConnectRetries(),
	}, plugins)
	if cfg.RedisAddr != "" {
		cli.Status = status.New(cfg.RedisAddr, "mpd")
		defer cli.Status.Close()
	}

	events, err := hotplug.Listen()
	if err != nil {
		log.Errorf("mpd: no hotplug events: %v", err)
	} else {
		defer events.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err = cli.Run(ctx, events); err != nil {
		log.Errorf("mpd: %v", err)
		return 1
	}
	return 0
}
