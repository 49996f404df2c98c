package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/pickupsync/internal/models"
)

var locationCmd = &cobra.Command{
	Use:   "location",
	Short: "Manage saved pickup locations",
}

var locationAddCmd = &cobra.Command{
	Use:     "add <name>",
	Short:   "Save a new location",
	Example: `  pickupsync location add Home --address "Main St 1" --lat 52.52 --lng 13.40 --default`,
	Args:    cobra.ExactArgs(1),
	RunE:    runLocationAdd,
}

var locationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved locations, default first",
	RunE:  runLocationList,
}

var locationDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a location",
	Args:  cobra.ExactArgs(1),
	RunE:  runLocationDelete,
}

var locationDefaultCmd = &cobra.Command{
	Use:   "default <id>",
	Short: "Make a location the default",
	Args:  cobra.ExactArgs(1),
	RunE:  runLocationDefault,
}

var (
	locationAddress   string
	locationLat       float64
	locationLng       float64
	locationIsDefault bool
)

func init() {
	rootCmd.AddCommand(locationCmd)
	locationCmd.AddCommand(locationAddCmd, locationListCmd, locationDeleteCmd, locationDefaultCmd)

	locationAddCmd.Flags().StringVarP(&locationAddress, "address", "a", "",
		"Street address (required)")
	locationAddCmd.Flags().Float64Var(&locationLat, "lat", 0, "Latitude")
	locationAddCmd.Flags().Float64Var(&locationLng, "lng", 0, "Longitude")
	locationAddCmd.Flags().BoolVar(&locationIsDefault, "default", false,
		"Make this the default location")
	_ = locationAddCmd.MarkFlagRequired("address")
}

func runLocationAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	userID, err := currentUser()
	if err != nil {
		return err
	}
	connect(ctx)

	loc, err := apiClient.Records.Locations.Create(ctx, &models.Location{
		Meta:      models.Meta{UserID: userID},
		Name:      args[0],
		Address:   locationAddress,
		Latitude:  locationLat,
		Longitude: locationLng,
		IsDefault: locationIsDefault,
	})
	if err != nil {
		return err
	}
	return printSaved("Location saved", loc.ID, loc)
}

func runLocationList(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}

	locs, err := apiClient.Records.Locations.ListForUser(cmd.Context(), userID)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(locs)
		return nil
	}
	if len(locs) == 0 {
		printInfo("No saved locations")
		return nil
	}

	for _, l := range locs {
		marker := " "
		if l.IsDefault {
			marker = successColor.Sprint("*")
		}
		fmt.Printf("%s %-36s  %-20s  %-40s  %s\n",
			marker, shortID(l.ID), truncate(l.Name, 20), truncate(l.Address, 40), syncBadge(l.Synced))
	}
	return nil
}

func runLocationDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	connect(ctx)

	if err := apiClient.Records.Locations.Delete(ctx, args[0]); err != nil {
		return err
	}
	return printSaved("Location deleted", args[0], map[string]interface{}{"id": args[0], "deleted": true})
}

func runLocationDefault(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	userID, err := currentUser()
	if err != nil {
		return err
	}
	connect(ctx)

	loc, err := apiClient.Records.Locations.SetDefault(ctx, userID, args[0])
	if err != nil {
		return err
	}
	return printSaved("Default location set", loc.ID, loc)
}
