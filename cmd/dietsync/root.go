package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jrsteele09/diet-sync/internal/config"
	"github.com/jrsteele09/diet-sync/notifications"
	"github.com/jrsteele09/diet-sync/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	apiURLEnvVar = "DIETSYNC_API_URL"
	homeEnvVar   = "DIETSYNC_HOME"
)

var (
	cfgFile  string
	apiFlag  string
	homeFlag string
	logLevel string

	cfg config.Config
)

// Execute is the entry point called from main.
func Execute() {
	rootCmd := &cobra.Command{
		Use:   "dietsync",
		Short: "Session and live sync client for the coaching backend",
		Long:  "dietsync signs in to the coaching backend, keeps the session renewed, and streams messages and notifications.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			cfg = c
			return setupLogging(cmd.ErrOrStderr(), c)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.config/dietsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiFlag, "api", "", "override the API base URL, e.g. http://127.0.0.1:8000/api")
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "override the directory holding credentials and the seen set")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newWhoamiCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newUnreadCmd())
	rootCmd.AddCommand(newNotificationsCmd())
	rootCmd.AddCommand(newWatchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(w io.Writer, c config.Config) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen})
	level := logLevel
	if level == "" {
		level = c.GetLogLevel()
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}

// loadConfig resolves the config file with CLI flags taking precedence.
func loadConfig() (config.Config, error) {
	if apiFlag != "" {
		if err := os.Setenv(apiURLEnvVar, apiFlag); err != nil {
			return nil, err
		}
	}
	if homeFlag != "" {
		if err := os.Setenv(homeEnvVar, homeFlag); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildStack wires every component for one command invocation.
func buildStack(out io.Writer, opts ...session.Option) (*session.Stack, error) {
	return session.Build(cfg, terminalAlerter(out), terminalBadge(out), opts...)
}

// withStack runs fn against a freshly built stack and closes it afterwards.
func withStack(cmd *cobra.Command, fn func(ctx context.Context, s *session.Stack) error) error {
	s, err := buildStack(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close local state")
		}
	}()
	return fn(cmd.Context(), s)
}

func terminalAlerter(out io.Writer) notifications.Alerter {
	return notifications.AlertFunc(func(_ context.Context, a notifications.Alert) error {
		_, err := fmt.Fprintf(out, "[notification] %s: %s\n", a.Title, a.Body)
		return err
	})
}

func terminalBadge(out io.Writer) notifications.Badge {
	var mu sync.Mutex
	last := -1
	return notifications.BadgeFunc(func(count int) {
		mu.Lock()
		defer mu.Unlock()
		if count == last {
			return
		}
		last = count
		fmt.Fprintf(out, "[badge] %d unread\n", count)
	})
}
