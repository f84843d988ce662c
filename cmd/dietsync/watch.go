package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jrsteele09/diet-sync/messages"
	"github.com/jrsteele09/diet-sync/realtime"
	"github.com/jrsteele09/diet-sync/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var background bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream messages and poll notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancelCause(ctx)
			defer cancel(nil)

			out := cmd.OutOrStdout()
			s, err := buildStack(out,
				session.WithForeground(!background),
				session.WithSignedOutHook(func(reason error) {
					cancel(fmt.Errorf("signed out: %w", reason))
				}),
			)
			if err != nil {
				return err
			}
			defer func() {
				if err := s.Close(); err != nil {
					log.Warn().Err(err).Msg("Failed to close local state")
				}
			}()

			s.Channel.Subscribe(func(m messages.InboundMessage) {
				printMessage(out, m)
			})
			s.Channel.OnStateChange(func(c realtime.StateChange) {
				log.Info().Str("component", "watch").Str("state", c.String()).Msg("Channel")
			})

			user, err := s.Manager.Restore(ctx)
			if err != nil {
				return describe(err)
			}
			mode := "foreground"
			if background {
				mode = "background"
			}
			fmt.Fprintf(out, "Watching as %s (%s polling), Ctrl-C to stop\n", user.FullName, mode)

			<-ctx.Done()
			if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
				return describe(cause)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&background, "background", false, "poll notifications at the background interval")
	return cmd
}
