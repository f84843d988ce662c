package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/diet-sync/internal/errors"
	"github.com/jrsteele09/diet-sync/session"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newLoginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			if password == "" {
				p, err := readPassword(cmd)
				if err != nil {
					return err
				}
				password = p
			}
			return withStack(cmd, func(ctx context.Context, s *session.Stack) error {
				user, err := s.Manager.Login(ctx, email, password)
				if err != nil {
					return describe(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s <%s> (%s)\n", user.FullName, user.Email, user.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (prompted when omitted)")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session and seen notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, s *session.Stack) error {
				if err := s.Manager.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
				return nil
			})
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, s *session.Stack) error {
				if _, ok := s.Store.Read(); !ok {
					return describe(apperrors.ErrNoSession)
				}
				user, err := s.Users.Me(ctx)
				if err != nil {
					return describe(err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s <%s>\n", user.FullName, user.Email)
				fmt.Fprintf(out, "  id:    %s\n", user.ID)
				fmt.Fprintf(out, "  role:  %s\n", user.Role)
				if phone := user.PhoneOrEmpty(); phone != "" {
					fmt.Fprintf(out, "  phone: %s\n", phone)
				}
				// the request above may have renewed the pair
				if current, ok := s.Store.Read(); ok {
					if claims, err := current.Claims(); err == nil && !claims.ExpiresAt.IsZero() {
						fmt.Fprintf(out, "  token: expires %s\n", claims.ExpiresAt.Local().Format(time.RFC1123))
					}
				}
				return nil
			})
		},
	}
}

func readPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// describe turns session errors into something a user can act on.
func describe(err error) error {
	switch {
	case apperrors.Is(err, apperrors.ErrNoSession):
		return errors.New("not signed in, run `dietsync login` first")
	case apperrors.Is(err, apperrors.ErrUnauthorized):
		return errors.New("session expired, run `dietsync login` again")
	case apperrors.Is(err, apperrors.ErrNetworkFailure):
		return fmt.Errorf("cannot reach the backend: %w", err)
	}
	if serverErr, ok := apperrors.AsServerError(err); ok {
		return errors.New(serverErr.Detail)
	}
	return err
}
