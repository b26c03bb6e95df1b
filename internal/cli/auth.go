package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"nine15-trader/internal/broker"
	apperrors "nine15-trader/internal/errors"
)

// addAuthCommands adds authentication commands.
func addAuthCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Broker authentication",
		Long:  "Manage the Zerodha Kite Connect session.",
	}

	cmd.AddCommand(newAuthLoginCmd(app))
	cmd.AddCommand(newAuthStatusCmd(app))
	cmd.AddCommand(newAuthLogoutCmd(app))
	cmd.AddCommand(newAuthTOTPCmd(app))

	rootCmd.AddCommand(cmd)
}

func newAuthLoginCmd(app *App) *cobra.Command {
	var requestToken string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to Zerodha",
		Long: `Start or complete a Kite Connect session. Without --request-token this
prints the login URL; open it, authorize, and re-run with the request token
from the redirect.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Zerodha == nil {
				output.Error("Zerodha credentials not configured.")
				return apperrors.ErrNotAuthenticated
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if requestToken != "" {
				if err := app.Zerodha.CompleteLogin(ctx, requestToken); err != nil {
					output.Error("Login failed: %v", err)
					return err
				}
				output.Success("Logged in. Session saved until tomorrow 6 AM IST.")
				return nil
			}

			if err := app.Zerodha.Login(ctx); err == nil {
				output.Success("Existing session is valid.")
				return nil
			}

			output.Info("Open this URL to authorize:")
			output.Printf("  %s\n", app.Zerodha.LoginURL())
			output.Dim("Then run: nine15 auth login --request-token <token>")
			return nil
		},
	}
	cmd.Flags().StringVar(&requestToken, "request-token", "", "request token from the Kite redirect URL")
	return cmd
}

func newAuthStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Zerodha == nil {
				output.Warning("Zerodha credentials not configured.")
				return nil
			}
			if app.Zerodha.IsAuthenticated() {
				output.Success("Session active for user %s", app.Config.Credentials.Zerodha.UserID)
			} else {
				output.Warning("Not authenticated. Run 'nine15 auth login'.")
			}
			if app.Config.IsPaperMode() {
				output.Dim("Trading mode: paper (orders are simulated)")
			} else {
				output.Info("Trading mode: live")
			}
			return nil
		},
	}
}

func newAuthLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Zerodha == nil {
				output.Warning("Zerodha credentials not configured.")
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := app.Zerodha.Logout(ctx); err != nil {
				output.Error("Logout failed: %v", err)
				return err
			}
			output.Success("Session invalidated.")
			return nil
		},
	}
}

func newAuthTOTPCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "totp",
		Short: "Print the current 2FA code",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			secret := app.Config.Credentials.Zerodha.TOTPSecret
			if secret == "" {
				output.Warning("No TOTP secret configured.")
				return nil
			}
			code, err := broker.GenerateTOTP(secret)
			if err != nil {
				output.Error("Failed to generate code: %v", err)
				return err
			}
			output.Printf("%s\n", code)
			return nil
		},
	}
}
