// Command spawnd is the spawn server. It is started with one end of a
// SOCK_SEQPACKET socket pair and serves spawn requests until every
// connection is closed and every child has exited.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/moby/sys/userns"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/criyle/go-spawn/config"
	"github.com/criyle/go-spawn/pkg/cgroup"
	"github.com/criyle/go-spawn/pkg/systemd"
	"github.com/criyle/go-spawn/registry"
	"github.com/criyle/go-spawn/sandbox"
	"github.com/criyle/go-spawn/server"
)

func main() {
	app := &cli.App{
		Name:   "spawnd",
		Usage:  "privileged process spawn server",
		Flags:  flags(),
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "fd",
			Value: 0,
			Usage: "inherited socket of the initial connection",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "configuration file",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging",
		},
		&cli.StringFlag{
			Name:  "cgroup-path",
			Usage: "delegated cgroup v2 directory, relative to /sys/fs/cgroup",
		},
		&cli.StringFlag{
			Name:  "systemd-scope",
			Usage: "create a transient systemd scope and delegate its cgroup",
		},
	}
}

func run(c *cli.Context) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetLevel(conf.Level(logrus.InfoLevel))
	if c.Bool("debug") {
		logger.SetLevel(logrus.DebugLevel)
	}

	policy, err := config.NewPolicy(conf)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cg, err := setupCgroup(ctx, conf, logger)
	if err != nil {
		return err
	}

	opts := server.Options{
		Policy:   policy,
		Spawner:  sandbox.NewBuilder(cg, logger),
		Registry: registry.New(logger),
		Logger:   logger,
		Cgroups:  cg.IsEnabled(),
		Ready: func() {
			if _, err := systemd.NotifyReady(); err != nil {
				logger.WithError(err).Warn("sd_notify failed")
			}
		},
	}
	if h := config.NewTrustedHook(conf); h != nil {
		opts.Hook = h
	}

	fd := c.Int("fd")
	initial := os.NewFile(uintptr(fd), "spawn-socket")
	if initial == nil {
		return errors.Errorf("invalid fd %d", fd)
	}
	logger.WithField("fd", fd).Info("spawn server started")
	if err := server.New(opts).Run(ctx, initial); err != nil {
		return err
	}
	logger.Info("spawn server finished")
	return nil
}

// loadConfig reads the configuration file and overlays the command line
func loadConfig(c *cli.Context) (*config.Config, error) {
	conf := new(config.Config)
	if p := c.String("config"); p != "" {
		var err error
		if conf, err = config.Load(p); err != nil {
			return nil, err
		}
	}
	if c.IsSet("cgroup-path") {
		conf.Cgroup.Path = c.String("cgroup-path")
		conf.Cgroup.SystemdScope = ""
	}
	if c.IsSet("systemd-scope") {
		conf.Cgroup.SystemdScope = c.String("systemd-scope")
		conf.Cgroup.Path = ""
	}
	return conf, nil
}

// setupCgroup returns nil if children are not placed in cgroups
func setupCgroup(ctx context.Context, conf *config.Config, logger logrus.FieldLogger) (*cgroup.State, error) {
	switch {
	case conf.Cgroup.Path != "":
		cg, err := cgroup.LoadState(conf.Cgroup.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "cgroup %s", conf.Cgroup.Path)
		}
		return cg, nil

	case conf.Cgroup.SystemdScope != "":
		if userns.RunningInUserNS() {
			logger.Warn("running in a user namespace, systemd scope disabled")
			return nil, nil
		}
		if cgroup.DetectType() != cgroup.CgroupTypeV2 {
			logger.Warn("cgroup v2 is not mounted, systemd scope disabled")
			return nil, nil
		}
		cg, err := systemd.CreateScope(ctx, systemd.Scope{
			Name:        conf.Cgroup.SystemdScope,
			Description: "spawn server",
			Slice:       conf.Cgroup.SystemdSlice,
			Delegate:    true,
		}, os.Getpid())
		if err != nil {
			logger.WithError(err).Warn("failed to create systemd scope, cgroups disabled")
			return nil, nil
		}
		logger.WithField("root", cg.Root).Info("delegated cgroup")
		return cg, nil
	}
	return nil, nil
}
