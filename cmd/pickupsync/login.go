package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the bearer token issued by the identity provider",
	Long: `Login saves a token for future API calls. When the token is a JWT its
subject, email and expiry are read from the claims.`,
	Example: `  pickupsync login
  pickupsync login --token "$TOKEN" --user user-123`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.Auth.Logout(); err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]interface{}{"success": true})
		} else {
			printSuccess("Logged out")
		}
		return nil
	},
}

var (
	loginToken string
	loginUser  string
	loginEmail string
)

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)

	loginCmd.Flags().StringVarP(&loginToken, "token", "t", "",
		"Bearer token (will prompt if not provided)")
	loginCmd.Flags().StringVarP(&loginUser, "user", "u", "",
		"User ID (defaults to the token subject)")
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "",
		"Email address (defaults to the token email claim)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	if loginToken == "" {
		var err error
		loginToken, err = promptSecret("Token: ")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
	}

	info, err := apiClient.Auth.Login(strings.TrimSpace(loginToken), loginUser, loginEmail)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":    true,
			"user_id":    info.UserID,
			"email":      info.Email,
			"expires_at": info.ExpiresAt,
		})
		return nil
	}

	who := info.UserID
	if info.Email != "" {
		who = fmt.Sprintf("%s (%s)", info.UserID, info.Email)
	}
	printSuccess("Logged in as %s", who)
	if !info.ExpiresAt.IsZero() {
		printInfo("Token expires %s", formatTime(info.ExpiresAt))
	}
	return nil
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	// Read without echo
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", err
	}

	return string(secret), nil
}
