package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/corvidlabs/wampd/router"
	"github.com/corvidlabs/wampd/stdlog"
)

// forceExitDelay bounds how long a shutdown waits for listeners and sessions
// to close before the process exits anyway.
const forceExitDelay = 5 * time.Second

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wampd",
		Short: "wampd runs a WAMP router",
		Long: "wampd is a standalone WAMP router. It accepts client connections over\n" +
			"websocket and rawsocket, routing PubSub and RPC traffic between them\n" +
			"according to the realms configured in its config file.",
		SilenceUsage: true,
	}
	cmd.AddCommand(newListenCmd(), newVersionCmd())
	return cmd
}

// newListenCmd builds the subcommand that starts the router's listeners and
// blocks until SIGINT/SIGTERM or the command's context is canceled.
func newListenCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "start the router and accept connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "", "path to a JSON configuration file")
	flags.String("ws-address", "", "override the websocket listen address (host:port)")
	flags.String("rs-tcp-address", "", "override the rawsocket TCP listen address (host:port)")
	flags.String("rs-unix-address", "", "override the rawsocket Unix domain socket path")
	flags.String("log-level", "", "override the log level (debug, info, warn, error)")
	flags.String("log-format", "", "override the log format (json, console)")

	v.SetEnvPrefix("wampd")
	v.AutomaticEnv()
	for _, name := range []string{"config", "ws-address", "rs-tcp-address", "rs-unix-address", "log-level", "log-format"} {
		v.BindPFlag(name, flags.Lookup(name))
	}

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the wampd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func runServe(ctx context.Context, v *viper.Viper) error {
	cfg, err := loadConfig(v.GetString("config"))
	if err != nil {
		return err
	}
	applyOverrides(cfg, v)

	zlog := newZerologLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	log := stdlog.NewZerologAdapter(zlog)

	r, err := router.NewRouter(&cfg.Router, log)
	if err != nil {
		return fmt.Errorf("creating router: %w", err)
	}

	closers, err := startListeners(r, cfg, log)
	if err != nil {
		return err
	}

	zlog.Info().Msg("wampd router started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		zlog.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	exitChan := make(chan struct{})
	go func() {
		for _, c := range closers {
			c.Close()
		}
		r.Close()
		close(exitChan)
	}()
	select {
	case <-exitChan:
	case <-time.After(forceExitDelay):
		zlog.Warn().Msg("shutdown timed out, exiting anyway")
	}
	return nil
}

func startListeners(r router.Router, cfg *config, log stdlog.StdLog) ([]io.Closer, error) {
	var closers []io.Closer

	if cfg.WebSocket.Address != "" {
		ws := router.NewWebsocketServer(r)
		ws.OutQueueSize = cfg.WebSocket.OutQueueSize
		ws.MessageRateLimit = rate.Limit(cfg.WebSocket.MessageRateLimit)
		ws.MessageBurst = cfg.WebSocket.MessageBurst
		if cfg.WebSocket.EnableCompression {
			ws.Upgrader.EnableCompression = true
		}
		var closer io.Closer
		var err error
		if cfg.WebSocket.CertFile != "" || cfg.WebSocket.KeyFile != "" {
			closer, err = ws.ListenAndServeTLS(cfg.WebSocket.Address, nil, cfg.WebSocket.CertFile, cfg.WebSocket.KeyFile)
		} else {
			closer, err = ws.ListenAndServe(cfg.WebSocket.Address)
		}
		if err != nil {
			return nil, fmt.Errorf("starting websocket listener: %w", err)
		}
		closers = append(closers, closer)
		log.Printf("websocket listening on %s", cfg.WebSocket.Address)
	}

	if cfg.RawSocket.TCPAddress != "" {
		rs := router.NewRawSocketServer(r)
		rs.RecvLimit = cfg.RawSocket.RecvLimit
		rs.KeepAlive = cfg.RawSocket.KeepAlive
		rs.OutQueueSize = cfg.RawSocket.OutQueueSize
		var closer io.Closer
		var err error
		if cfg.RawSocket.CertFile != "" || cfg.RawSocket.KeyFile != "" {
			closer, err = rs.ListenAndServeTLS("tcp", cfg.RawSocket.TCPAddress, nil, cfg.RawSocket.CertFile, cfg.RawSocket.KeyFile)
		} else {
			closer, err = rs.ListenAndServe("tcp", cfg.RawSocket.TCPAddress)
		}
		if err != nil {
			return nil, fmt.Errorf("starting rawsocket TCP listener: %w", err)
		}
		closers = append(closers, closer)
		log.Printf("rawsocket listening on tcp %s", cfg.RawSocket.TCPAddress)
	}

	if cfg.RawSocket.UnixAddress != "" {
		rs := router.NewRawSocketServer(r)
		rs.RecvLimit = cfg.RawSocket.RecvLimit
		rs.OutQueueSize = cfg.RawSocket.OutQueueSize
		closer, err := rs.ListenAndServe("unix", cfg.RawSocket.UnixAddress)
		if err != nil {
			return nil, fmt.Errorf("starting rawsocket Unix listener: %w", err)
		}
		closers = append(closers, closer)
		log.Printf("rawsocket listening on unix %s", cfg.RawSocket.UnixAddress)
	}

	if len(closers) == 0 {
		return nil, fmt.Errorf("no listeners configured: set websocket.address or rawsocket.tcp_address")
	}

	return closers, nil
}

// applyOverrides layers flag/env values bound in v on top of the values
// decoded from the config file. Only settings with a non-empty override are
// touched, so a file-configured value survives when no flag or env var sets
// the corresponding key.
func applyOverrides(cfg *config, v *viper.Viper) {
	if addr := v.GetString("ws-address"); addr != "" {
		cfg.WebSocket.Address = addr
	}
	if addr := v.GetString("rs-tcp-address"); addr != "" {
		cfg.RawSocket.TCPAddress = addr
	}
	if addr := v.GetString("rs-unix-address"); addr != "" {
		cfg.RawSocket.UnixAddress = addr
	}
	if level := v.GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if format := v.GetString("log-format"); format != "" {
		cfg.LogFormat = format
	}
}

func newZerologLogger(level, format string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var out io.Writer = w
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
