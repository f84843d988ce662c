package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jrsteele09/diet-sync/session"
	"github.com/spf13/cobra"
)

func newNotificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "List, check and acknowledge notifications",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List notifications as the server orders them",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStack(cmd, func(ctx context.Context, s *session.Stack) error {
					list, err := s.Notifications.List(ctx)
					if err != nil {
						return describe(err)
					}
					for _, n := range list {
						mark := " "
						if !n.IsRead {
							mark = "*"
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%s %s  %s  %s: %s\n", mark, n.ID, n.CreatedAt.Local().Format("2006-01-02 15:04"), n.Title, n.Content)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Run one check, alerting for unread notifications not seen on this device",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStack(cmd, func(ctx context.Context, s *session.Stack) error {
					res, err := s.Notifications.CheckOnce(ctx)
					if err != nil {
						return describe(err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d unread, %d new\n", res.Unread, len(res.Alerted))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "read <notification-id>",
			Short: "Mark one notification read",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid notification id %q: %w", args[0], err)
				}
				return withStack(cmd, func(ctx context.Context, s *session.Stack) error {
					return describe(s.Notifications.MarkRead(ctx, id))
				})
			},
		},
		&cobra.Command{
			Use:   "read-all",
			Short: "Mark every notification read and clear the badge",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStack(cmd, func(ctx context.Context, s *session.Stack) error {
					return describe(s.Notifications.MarkAllRead(ctx))
				})
			},
		},
		&cobra.Command{
			Use:   "register-token <push-token>",
			Short: "Register this device's push token",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStack(cmd, func(ctx context.Context, s *session.Stack) error {
					return describe(s.Notifications.RegisterPushToken(ctx, args[0]))
				})
			},
		},
	)
	return cmd
}
