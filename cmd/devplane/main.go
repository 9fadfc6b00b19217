package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devplane/devplane"
)

var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ServeFlags holds the serve subcommand's flags. Flags override the config
// file, which overrides the built-in defaults.
type ServeFlags struct {
	Listen    string
	AppDir    string
	AppPort   int
	PIDFile   string
	Daemonize bool
	LogFile   string
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "devplane",
		Short:         "Control plane for a supervised dev server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(createServeCommand(), createVersionCommand())
	return root
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the devplane version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func createServeCommand() *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the control-plane HTTP service",
		Long: `Run the control-plane HTTP service supervising one dev server.

Examples:
  devplane serve                          # built-in defaults
  devplane serve devplane.toml            # load a config file
  devplane serve --app-dir=/srv/app --app-port=5173
  devplane serve --daemonize --logfile=/var/log/devplane.log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags, args)
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&flags.AppDir, "app-dir", "", "application directory (overrides config)")
	cmd.Flags().IntVar(&flags.AppPort, "app-port", 0, "dev server port (overrides config)")
	cmd.Flags().StringVar(&flags.PIDFile, "pid-file", "", "dev server pid marker path (overrides config)")
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func applyFlags(cfg *devplane.Config, flags *ServeFlags) {
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}
	if flags.AppDir != "" {
		cfg.App.Dir = flags.AppDir
	}
	if flags.AppPort != 0 {
		cfg.App.Port = flags.AppPort
	}
	if flags.PIDFile != "" {
		cfg.App.PIDFile = flags.PIDFile
	}
}

func runServe(cmd *cobra.Command, flags *ServeFlags, args []string) error {
	configPath := ""
	if len(args) > 0 {
		configPath = args[0]
	}

	cfg, err := devplane.LoadConfig(configPath)
	if err != nil {
		return err
	}
	applyFlags(&cfg, flags)

	if flags.Daemonize {
		return daemonize(flags.LogFile)
	}

	svc, err := devplane.New(cfg)
	if err != nil {
		return err
	}
	httpSrv := svc.ListenAndServe()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	got := <-sig
	svc.Logger().Info("shutting down", "signal", got.String())

	// The supervised child goes first so its output is flushed while the log
	// stream is still up, then the HTTP server drains.
	_ = svc.Shutdown()
	ctx, cancel := context.WithTimeout(cmd.Context(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
