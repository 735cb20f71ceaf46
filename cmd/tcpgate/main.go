// Command tcpgate runs the TCP forwarding gateway: a cobra CLI wrapping
// the manager (serve), the admin control plane's stats endpoint
// (status), and a config-file scaffolding helper (config init).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	homedir "github.com/mitchellh/go-homedir"
	liblog "github.com/nabbar/golib/logger"
	logcfg "github.com/nabbar/golib/logger/config"
	loglvl "github.com/nabbar/golib/logger/level"
	spfcbr "github.com/spf13/cobra"
	"github.com/spf13/viper"

	libadm "github.com/sabouaram/tcpgate/internal/admin"
	libfwd "github.com/sabouaram/tcpgate/internal/forward"
)

var configPath string

func main() {
	root := &spfcbr.Command{
		Use:   "tcpgate",
		Short: "Multi-tenant TCP forwarding gateway",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "tcpgate.yaml", "path to the configuration file")
	root.PersistentPreRunE = func(cmd *spfcbr.Command, args []string) error {
		p, err := homedir.Expand(configPath)
		if err != nil {
			return err
		}
		configPath = p
		return nil
	}

	root.AddCommand(serveCmd(), configInitCmd(), versionCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *spfcbr.Command {
	return &spfcbr.Command{
		Use:   "serve",
		Short: "Load the configuration and run the forwarding gateway and admin plane",
		RunE: func(cmd *spfcbr.Command, args []string) error {
			cfg, err := libfwd.LoadConfig(configPath)
			if err != nil {
				// Non-zero exit when the configuration fails to load.
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sig
				cancel()
			}()

			log := func() liblog.Logger { return liblog.New(ctx) }
			log().SetLevel(loglvl.InfoLevel)

			if cfg.Options.LogConfigFile != "" {
				opts, lerr := loadLogOptions(cfg.Options.LogConfigFile)
				if lerr != nil {
					return lerr
				}
				if serr := log().SetOptions(opts); serr != nil {
					return serr
				}
			}

			mgr := libfwd.NewManager(ctx, log)
			if _, err = mgr.Start(cfg); err != nil {
				return err
			}

			if cfg.AdminServer != nil {
				adm := libadm.NewServer(mgr, configPath, log)
				go func() {
					if rerr := adm.Run(ctx, cfg.AdminServer); rerr != nil {
						log().Entry(loglvl.ErrorLevel, "admin server exited: "+rerr.Error()).Log()
					}
				}()
			}

			<-ctx.Done()
			mgr.Stop()
			return nil
		},
	}
}

// loadLogOptions reads the logger's own YAML config schema (logger/config's
// Options: stdout/logFile/logSyslog sinks) from path, the way serveCmd
// already loads the gateway's own config with a freshly scoped viper.Viper.
func loadLogOptions(path string) (*logcfg.Options, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var opts logcfg.Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, err
	}

	return &opts, nil
}

func configInitCmd() *spfcbr.Command {
	cmd := &spfcbr.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
	}
	cmd.RunE = func(cmd *spfcbr.Command, args []string) error {
		return libfwd.SaveConfig(configPath, libfwd.Default())
	}
	return wrapConfig(cmd)
}

func wrapConfig(sub *spfcbr.Command) *spfcbr.Command {
	parent := &spfcbr.Command{
		Use:   "config",
		Short: "Configuration file helpers",
	}
	parent.AddCommand(sub)
	return parent
}

func versionCmd() *spfcbr.Command {
	return &spfcbr.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Run: func(cmd *spfcbr.Command, args []string) {
			fmt.Println("tcpgate (dev)")
		},
	}
}
