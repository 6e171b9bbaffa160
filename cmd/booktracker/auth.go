package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/booktracker/booktracker/internal/logsanitize"
	"github.com/booktracker/booktracker/internal/session"
)

func (c *cli) loginCommand() *cobra.Command {
	var username string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Long: `Exchange username and password for a session.

The password is prompted for when stdin is a terminal. In scripts, pass
--username and pipe the password with --password-stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if passwordStdin {
				pw, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = pw
			}
			if err := c.prompter.Credentials(&username, &password); err != nil {
				return err
			}

			s, err := c.components.Sessions.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s as %s\n", okStyle.Render("Logged in"), s.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return withSession(cmd)
}

func (c *cli) registerCommand() *cobra.Command {
	var in session.RegisterInput
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passwordStdin {
				pw, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				in.Password, in.ConfirmPassword = pw, pw
			}
			if err := c.prompter.Registration(&in); err != nil {
				return err
			}

			s, err := c.components.Sessions.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s as %s\n", okStyle.Render("Registered and logged in"), s.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in.Username, "username", "u", "", "Username")
	cmd.Flags().StringVar(&in.Email, "email", "", "Email address")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return withSession(cmd)
}

func (c *cli) logoutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.components.Sessions.Logout()
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
	return withSession(cmd)
}

func (c *cli) statusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			s := c.components.Sessions.Current()

			_, _ = fmt.Fprintln(out, titleStyle.Render("BookTracker session"))
			if !s.Authenticated() {
				_, _ = fmt.Fprint(out, row("State", badStyle.Render("logged out")))
				_, _ = fmt.Fprintln(out, dimStyle.Render("Run 'booktracker login' to sign in."))
				return nil
			}

			_, _ = fmt.Fprint(out,
				row("State", okStyle.Render("logged in")),
				row("Username", s.Username),
				row("User ID", s.UserID),
				row("Token", logsanitize.Token(s.Token)),
				row("Expires", expiry(s.ExpiresAt, time.Now())),
				row("Store", storeSummary(c.cfg)),
			)
			return nil
		},
	}
	return withSession(cmd)
}

// expiry describes a token expiry relative to now.
func expiry(at, now time.Time) string {
	switch {
	case at.IsZero():
		return dimStyle.Render("unknown")
	case !now.Before(at):
		return badStyle.Render("expired " + at.Local().Format(time.RFC3339))
	default:
		return at.Local().Format(time.RFC3339) + dimStyle.Render(" (in "+at.Sub(now).Round(time.Minute).String()+")")
	}
}

func (c *cli) validateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Ask the backend whether the stored session is still valid",
		Long: `Check the stored token against the auth service.

A rejected token ends the session. Exit codes:
  0 = Session is valid
  2 = Not logged in, or the session was rejected`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !c.components.Sessions.IsAuthenticated() {
				_, _ = fmt.Fprintln(out, badStyle.Render("Not logged in"))
				c.overrideExitCode = ExitUnauthenticated
				return nil
			}

			ok, err := c.components.Sessions.Validate(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				_, _ = fmt.Fprintln(out, badStyle.Render("Session rejected; log in again"))
				c.overrideExitCode = ExitUnauthenticated
				return nil
			}
			_, _ = fmt.Fprintln(out, okStyle.Render("Session is valid"))
			return nil
		},
	}
	return withSession(cmd)
}
