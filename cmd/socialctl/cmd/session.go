package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"go.pilab.hu/socialcore/domain"
)

func newSignUpCommand(rt *runtime) *cobra.Command {
	var email, password, name, username string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and its profile, then sign in",
		RunE: rt.wrap(func(cmd *cobra.Command, _ []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			if err := rt.app.Sessions.SignUp(cmd.Context(), email, pw, name, username); err != nil {
				return err
			}
			return printState(cmd, rt)
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&username, "username", "", "public handle")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newSignInCommand(rt *runtime) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password",
		RunE: rt.wrap(func(cmd *cobra.Command, _ []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			if err := rt.app.Sessions.SignIn(cmd.Context(), email, pw); err != nil {
				return err
			}
			return printState(cmd, rt)
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newGoogleCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "google",
		Short: "Sign in with Google through the browser",
		RunE: rt.wrap(func(cmd *cobra.Command, _ []string) error {
			if err := rt.app.Sessions.SignInWithGoogle(cmd.Context()); err != nil {
				return err
			}
			return printState(cmd, rt)
		}),
	}
}

func newLogoutCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out of the current session",
		RunE: rt.wrap(func(cmd *cobra.Command, _ []string) error {
			if err := rt.app.Sessions.Logout(cmd.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return err
		}),
	}
}

func newWhoAmICommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity and profile",
		RunE: rt.wrap(func(cmd *cobra.Command, _ []string) error {
			if !rt.app.Sessions.State().SignedIn() {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
				return err
			}
			if err := rt.app.Sessions.RefreshProfile(cmd.Context()); err != nil {
				return err
			}
			return printState(cmd, rt)
		}),
	}
}

func newResetPasswordCommand(rt *runtime) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Send a password reset message",
		RunE: rt.wrap(func(cmd *cobra.Command, _ []string) error {
			if err := rt.app.Sessions.ResetPassword(cmd.Context(), email); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "If %s has an account, a reset link is on its way.\n", email)
			return err
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newConfirmResetCommand(rt *runtime) *cobra.Command {
	var token, password string
	cmd := &cobra.Command{
		Use:   "confirm-reset",
		Short: "Set a new password with a reset token",
		RunE: rt.wrap(func(cmd *cobra.Command, _ []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			if err := rt.app.Identity.ConfirmPasswordReset(cmd.Context(), token, pw); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Password updated.")
			return err
		}),
	}
	cmd.Flags().StringVar(&token, "token", "", "reset token from the reset link")
	cmd.Flags().StringVar(&password, "password", "", "new password (prompted when empty)")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

// sessionView is what the CLI prints for a session.
type sessionView struct {
	UID      string `yaml:"uid"`
	Email    string `yaml:"email,omitempty"`
	Name     string `yaml:"name,omitempty"`
	Username string `yaml:"username,omitempty"`
	Avatar   string `yaml:"avatar,omitempty"`
	Posts    int64  `yaml:"posts"`
	Profile  string `yaml:"profile"`
}

func printState(cmd *cobra.Command, rt *runtime) error {
	state := rt.app.Sessions.State()
	if state.Identity == nil {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
		return err
	}
	out, err := yaml.Marshal(newSessionView(state))
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func newSessionView(state domain.SessionState) sessionView {
	v := sessionView{UID: state.Identity.UID, Email: state.Identity.Email, Profile: "missing"}
	switch {
	case state.Loading:
		v.Profile = "loading"
	case state.Profile != nil:
		v.Profile = "loaded"
		v.Name = state.Profile.Name
		v.Username = state.Profile.Username
		v.Avatar = state.Profile.AvatarURL
		v.Posts = state.Profile.PostsCount
	}
	return v
}

// readPassword returns flagValue when set, prompts on a terminal, or reads
// one line from the command's input otherwise.
func readPassword(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
