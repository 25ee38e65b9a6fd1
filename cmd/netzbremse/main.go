package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/netzbremse/netzbremse/internal/browser"
	"github.com/netzbremse/netzbremse/internal/log"
	"github.com/netzbremse/netzbremse/internal/meta"
	"github.com/netzbremse/netzbremse/internal/model"
	"github.com/netzbremse/netzbremse/internal/service"
	"github.com/netzbremse/netzbremse/internal/session"

	"github.com/spf13/cobra"
)

var (
	config model.Config

	flagVerbose bool // value of --verbose flag
)

func main() {
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse environment configuration, setup logging
	rootCmd.PersistentPreRunE = initAgent

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("netzbremse failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "netzbremse",
	Short:        "Periodically measures network throughput via a browser-driven speedtest and persists the results",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the measurement loop forever, retrying failed attempts up to the configured budget",
	RunE:  doRun,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "run a single measurement attempt and print the result to stdout",
	RunE:  doOnce,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of netzbremse",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("netzbremse: version info not available")
			return
		}

		fmt.Printf("netzbremse: %s\n", info.Main.Version)
		fmt.Printf("go:         %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:     %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:       %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:      %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("netzbremse",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	sess := session.New(browser.ChromeDriver{}, config)

	var sinks []model.Sink
	if config.DataDir != "" {
		dirSink, err := service.NewDirSink(config.DataDir)
		if err != nil {
			return fmt.Errorf("opening data dir: %w", err)
		}
		sinks = append(sinks, dirSink)
	}
	if config.PushURL != "" {
		pushSink, err := service.NewPushSink(config.PushURL)
		if err != nil {
			return fmt.Errorf("initializing push sink: %w", err)
		}
		sinks = append(sinks, pushSink)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, service.NewWriteSink(os.Stdout))
	}

	supervisor := service.NewSupervisor(config, sess, sinks...)
	if metaClient, err := meta.NewClient(config.URL); err == nil {
		supervisor = supervisor.WithMeta(metaClient)
	} else {
		slog.WarnContext(ctx, "metadata client disabled", "error", err)
	}

	return supervisor.Do(ctx)
}

func doOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("netzbremse",
		slog.String("cmd", "once"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	sess := session.New(browser.ChromeDriver{}, config)
	supervisor := service.NewSupervisor(config, sess, service.NewWriteSink(os.Stdout))
	return supervisor.Once(ctx)
}

func initAgent(cmd *cobra.Command, _ []string) error {
	var err error
	config, err = model.LoadConfig()
	if err != nil {
		return err
	}

	// --verbose has a precedence over environment
	if flagVerbose {
		config.Verbose = true
	}

	slog.SetDefault(log.New(config.Verbose))

	if cmd.Name() != "version" && !config.AcceptTerms {
		return model.ErrTermsNotAccepted
	}

	slog.Debug("netzbremse starting", "config", slog.GroupValue(
		slog.String("url", config.URL),
		slog.Duration("test_interval", config.TestInterval),
		slog.Duration("attempt_timeout", config.AttemptTimeout),
		slog.Duration("retry_interval", config.RetryInterval),
		slog.Int("max_retries", config.MaxRetries),
		slog.String("profile_dir", config.ProfileDir),
		slog.String("data_dir", config.DataDir),
	))
	return nil
}
