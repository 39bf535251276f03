package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Tyrowin/roomchat/internal/console"
	"github.com/Tyrowin/roomchat/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var (
		cfgFile     string
		withConsole bool
	)

	cmd := &cobra.Command{
		Use:          "roomchat",
		Short:        "Multi-room WebSocket chat server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, withConsole)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.BoolVar(&withConsole, "console", false, "start the interactive operator console")
	flags.String("addr", server.DefaultAddr, "listen address")
	flags.String("log-level", server.DefaultLogLevel, "log level: debug, info, warn or error")
	flags.String("log-format", server.DefaultLogFormat, "log format: text or json")

	_ = v.BindPFlag("addr", flags.Lookup("addr"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))

	return cmd
}

// loadConfig layers defaults, an optional config file, ROOMCHAT_*
// environment variables and flags, in increasing precedence.
func loadConfig(v *viper.Viper, cfgFile string) (server.Config, error) {
	server.SetDefaults(v)
	v.SetEnvPrefix("ROOMCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return server.Config{}, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}
	return server.LoadConfig(v)
}

func run(parent context.Context, cfg server.Config, withConsole bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := server.NewLogger(cfg.Log, os.Stderr)
	logger.Info("starting room chat server", "addr", cfg.Addr, "admin_rpc", cfg.AdminRPC)

	srv := server.New(cfg, logger)
	if withConsole {
		go console.New(srv.Hub(), os.Stdout, stop).Run()
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}
