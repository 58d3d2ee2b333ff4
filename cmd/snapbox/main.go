package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/snapboxhq/snapbox/internal/config"
	"github.com/snapboxhq/snapbox/internal/daemon"
	"github.com/snapboxhq/snapbox/internal/utils"
	"github.com/snapboxhq/snapbox/internal/version"
)

const configFileName = "config"

var home, _ = os.UserHomeDir()

var rootCmd = &cobra.Command{
	Use:     "snapbox",
	Short:   "Snapbox directory synchronization daemon",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &config.Config{
			Path:               viper.ConfigFileUsed(),
			DataDir:            viper.GetString("data_dir"),
			ServerURL:          viper.GetString("server_url"),
			RemoteDir:          viper.GetString("remote_dir"),
			PollInterval:       viper.GetDuration("poll_interval"),
			Quiescence:         viper.GetDuration("quiescence"),
			DirtyCheckInterval: viper.GetDuration("dirty_check_interval"),
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		showHeader()

		d, err := daemon.New(cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		if err := d.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("datadir", "d", config.DefaultDataDir, "Directory to keep in sync")
	rootCmd.Flags().StringP("server", "s", "", "Snapshot store server URL")
	rootCmd.Flags().String("remote-dir", "", "Remote directory namespace (defaults to the data dir name)")
	rootCmd.Flags().Duration("poll", config.DefaultPollInterval, "Remote snapshot poll interval")
	rootCmd.Flags().Duration("quiescence", config.DefaultQuiescence, "Quiet period before a debounced backup")
	rootCmd.Flags().Duration("dirty-check", config.DefaultDirtyCheckInterval, "Interval between dirty-flag checks")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "Snapbox config file")
}

func main() {
	logFile := config.DefaultLogFilePath
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create log directory: %v\n", err)
		os.Exit(1)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.RFC3339,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	logInterceptor := utils.NewLogInterceptor(file)
	defer logInterceptor.Close()
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// the interceptor stamps each line itself
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".snapbox"))
		viper.AddConfigPath(filepath.Join(home, ".config/snapbox"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("data_dir", cmd.Flags().Lookup("datadir"))
	viper.BindPFlag("server_url", cmd.Flags().Lookup("server"))
	viper.BindPFlag("remote_dir", cmd.Flags().Lookup("remote-dir"))
	viper.BindPFlag("poll_interval", cmd.Flags().Lookup("poll"))
	viper.BindPFlag("quiescence", cmd.Flags().Lookup("quiescence"))
	viper.BindPFlag("dirty_check_interval", cmd.Flags().Lookup("dirty-check"))

	viper.SetEnvPrefix("SNAPBOX")
	viper.AutomaticEnv()

	return nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Printf("Snapbox %s\n", version.Short())
}
