package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/suyash-sneo/kvsync"
	"github.com/suyash-sneo/kvsync/backend/redis"
	"github.com/suyash-sneo/kvsync/observe"
)

const version = "0.3.0"

// app carries what every subcommand needs. Built per root command so tests
// can run several commands side by side.
type app struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	defaults := kvsync.DefaultConfig()

	root := &cobra.Command{
		Use:   "kvsync",
		Short: "shared reactive views over a persistent key-value entry",
		Long: fmt.Sprintf(`kvsync (v%s)

Reads, writes and watches keys the way kvsync views see them, against a
Redis instance shared with other processes.`, version),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initConfig(cmd)
		},
	}

	key := "redis"
	root.PersistentFlags().String(key, defaults.Redis.Addr, wrapString("address of the redis server"))
	key = "prefix"
	root.PersistentFlags().String(key, defaults.Redis.KeyPrefix, wrapString("namespace prepended to every key"))
	key = "channel"
	root.PersistentFlags().String(key, defaults.Redis.Channel, wrapString("pub/sub channel carrying change events, relative to the prefix"))
	key = "serializer"
	root.PersistentFlags().String(key, defaults.Serializer, wrapString("serializer to use (json, yaml)"))
	key = "config"
	root.PersistentFlags().String(key, "", wrapString("path to a YAML config file"))
	key = "default"
	root.PersistentFlags().String(key, "", wrapString("value reported, and seeded, while the key has no entry"))
	key = "verbose"
	root.PersistentFlags().BoolP(key, "v", false, wrapString("verbose logging"))

	root.AddCommand(
		a.getCmd(),
		a.setCmd(),
		a.rmCmd(),
		a.watchCmd(),
		a.replCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of kvsync",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "kvsync v%s\n", version)
			},
		},
	)
	return root
}

// initConfig loads .env files and binds flags and KVSYNC_* environment variables.
func (a *app) initConfig(cmd *cobra.Command) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	a.v.SetEnvPrefix("kvsync")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	return a.v.BindPFlags(cmd.Flags())
}

// config merges the config file with flags and environment; flags win.
func (a *app) config() (kvsync.Config, error) {
	cfg := kvsync.DefaultConfig()
	if path := a.v.GetString("config"); path != "" {
		loaded, err := kvsync.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if a.v.IsSet("redis") {
		cfg.Redis.Addr = a.v.GetString("redis")
	}
	if a.v.IsSet("prefix") {
		cfg.Redis.KeyPrefix = a.v.GetString("prefix")
	}
	if a.v.IsSet("channel") {
		cfg.Redis.Channel = a.v.GetString("channel")
	}
	if a.v.IsSet("serializer") {
		cfg.Serializer = a.v.GetString("serializer")
	}
	if cfg.Serializer == "gob" {
		return cfg, fmt.Errorf("the gob serializer needs concrete Go types; use json or yaml from the command line")
	}
	cfg.Redis.ContextIDs = &kvsync.HostContextIDs{Prefix: cfg.ContextPrefix}
	return cfg, cfg.Validate()
}

func (a *app) logger(w io.Writer) kvsync.Logger {
	level := slog.LevelWarn
	if a.v.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return observe.NewSlogLogger(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// openSyncer connects to Redis and builds a Syncer. The caller closes it.
func (a *app) openSyncer(cmd *cobra.Command) (*kvsync.Syncer, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	be, err := redis.New(cfg.Redis)
	if err != nil {
		return nil, err
	}
	s, err := kvsync.New(cfg, be, kvsync.WithLogger(a.logger(cmd.ErrOrStderr())))
	if err != nil {
		_ = be.Close()
		return nil, err
	}
	return s, nil
}

// openView binds a view to key, applying --default when given.
func (a *app) openView(s *kvsync.Syncer, key string, notify func()) (*kvsync.View[any], error) {
	opts := []kvsync.ViewOption[any]{}
	if a.v.IsSet("default") {
		opts = append(opts, kvsync.WithDefault(parseValue(s.Serializer(), a.v.GetString("default"))))
	}
	if notify != nil {
		opts = append(opts, kvsync.WithNotify[any](notify))
	}
	return kvsync.NewView[any](s, key, opts...)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
