package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/jrsteele09/diet-sync/messages"
	"github.com/jrsteele09/diet-sync/session"
	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	var imageURL string
	cmd := &cobra.Command{
		Use:   "send <receiver-id> [text...]",
		Short: "Send a text or image message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			receiver, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid receiver id %q: %w", args[0], err)
			}
			text := strings.Join(args[1:], " ")

			var out messages.Outbound
			switch {
			case imageURL != "" && text != "":
				return errors.New("send either text or --image, not both")
			case imageURL != "":
				out = messages.NewImage(receiver, imageURL)
			default:
				out = messages.NewText(receiver, text)
			}

			return withStack(cmd, func(ctx context.Context, s *session.Stack) error {
				msg, err := s.Messages.Send(ctx, out)
				if err != nil {
					return describe(err)
				}
				printMessage(cmd.OutOrStdout(), msg)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&imageURL, "image", "", "send an image URL instead of text")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <peer-id>",
		Short: "Show the conversation with a peer and mark it read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid peer id %q: %w", args[0], err)
			}
			return withStack(cmd, func(ctx context.Context, s *session.Stack) error {
				history, err := s.Messages.History(ctx, peer)
				if err != nil {
					return describe(err)
				}
				for _, m := range history {
					printMessage(cmd.OutOrStdout(), m)
				}
				return nil
			})
		},
	}
}

func newUnreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Show the number of unread messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, s *session.Stack) error {
				n, err := s.Messages.UnreadCount(ctx)
				if err != nil {
					return describe(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d unread messages\n", n)
				return nil
			})
		},
	}
}

func printMessage(w io.Writer, m messages.InboundMessage) {
	body := m.Text()
	if m.ImageURL != nil {
		body = strings.TrimSpace(body + " [image] " + *m.ImageURL)
	}
	fmt.Fprintf(w, "%s  %s -> %s  %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), short(m.SenderID), short(m.ReceiverID), body)
}

func short(id uuid.UUID) string {
	return id.String()[:8]
}
