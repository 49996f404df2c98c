package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/pickupsync/internal/models"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or update your profile",
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update profile fields",
	RunE:  runProfileSet,
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored profile",
	RunE:  runProfileShow,
}

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or update notification preferences",
}

var prefsSetCmd = &cobra.Command{
	Use:     "set",
	Short:   "Update preferences",
	Example: `  pickupsync prefs set --email=false --reminders --language de`,
	RunE:    runPrefsSet,
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored preferences",
	RunE:  runPrefsShow,
}

var (
	profileName    string
	profilePhone   string
	profileAddress string

	prefsPush      bool
	prefsEmail     bool
	prefsSMS       bool
	prefsReminders bool
	prefsLanguage  string
)

func init() {
	rootCmd.AddCommand(profileCmd, prefsCmd)
	profileCmd.AddCommand(profileSetCmd, profileShowCmd)
	prefsCmd.AddCommand(prefsSetCmd, prefsShowCmd)

	profileSetCmd.Flags().StringVar(&profileName, "name", "", "Display name")
	profileSetCmd.Flags().StringVar(&profilePhone, "phone", "", "Phone number")
	profileSetCmd.Flags().StringVar(&profileAddress, "address", "", "Postal address")

	prefsSetCmd.Flags().BoolVar(&prefsPush, "push", false, "Push notifications")
	prefsSetCmd.Flags().BoolVar(&prefsEmail, "email", false, "Email updates")
	prefsSetCmd.Flags().BoolVar(&prefsSMS, "sms", false, "SMS reminders")
	prefsSetCmd.Flags().BoolVar(&prefsReminders, "reminders", false, "Pickup reminders")
	prefsSetCmd.Flags().StringVar(&prefsLanguage, "language", "", "Language tag, e.g. en or de-AT")
}

func runProfileSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	userID, err := currentUser()
	if err != nil {
		return err
	}

	// Unset flags keep the stored value.
	p, err := apiClient.Records.Profiles.Get(ctx, userID)
	if err != nil {
		p = &models.Profile{Meta: models.Meta{UserID: userID}}
	}
	flags := cmd.Flags()
	if flags.Changed("name") {
		p.Name = profileName
	}
	if flags.Changed("phone") {
		p.Phone = profilePhone
	}
	if flags.Changed("address") {
		p.Address = profileAddress
	}

	connect(ctx)
	p, err = apiClient.Records.Profiles.Save(ctx, p)
	if err != nil {
		return err
	}
	return printSaved("Profile saved", p.ID, p)
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}

	p, err := apiClient.Records.Profiles.Get(cmd.Context(), userID)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(p)
		return nil
	}

	fmt.Printf("Name:    %s\n", p.Name)
	fmt.Printf("Phone:   %s\n", p.Phone)
	fmt.Printf("Address: %s\n", p.Address)
	fmt.Printf("Status:  %s\n", syncBadge(p.Synced))
	return nil
}

func runPrefsSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	userID, err := currentUser()
	if err != nil {
		return err
	}

	p, err := apiClient.Records.Preferences.Get(ctx, userID)
	if err != nil {
		p = &models.Preferences{Meta: models.Meta{UserID: userID}}
	}
	flags := cmd.Flags()
	if flags.Changed("push") {
		p.PushNotifications = prefsPush
	}
	if flags.Changed("email") {
		p.EmailUpdates = prefsEmail
	}
	if flags.Changed("sms") {
		p.SMSReminders = prefsSMS
	}
	if flags.Changed("reminders") {
		p.PickupReminders = prefsReminders
	}
	if flags.Changed("language") {
		p.Language = prefsLanguage
	}

	connect(ctx)
	p, err = apiClient.Records.Preferences.Save(ctx, p)
	if err != nil {
		return err
	}
	return printSaved("Preferences saved", p.ID, p)
}

func runPrefsShow(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}

	p, err := apiClient.Records.Preferences.Get(cmd.Context(), userID)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(p)
		return nil
	}

	fmt.Printf("Push notifications: %t\n", p.PushNotifications)
	fmt.Printf("Email updates:      %t\n", p.EmailUpdates)
	fmt.Printf("SMS reminders:      %t\n", p.SMSReminders)
	fmt.Printf("Pickup reminders:   %t\n", p.PickupReminders)
	fmt.Printf("Language:           %s\n", p.Language)
	fmt.Printf("Status:             %s\n", syncBadge(p.Synced))
	return nil
}
