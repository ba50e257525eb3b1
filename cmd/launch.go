package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edulab/lrsync/internal/utils"
	"github.com/edulab/lrsync/pkg/launch"
)

// launchCmd implements: lrsync launch
//
// Performs the registration upsert against LRS state storage, emits the
// launched statement, and prints the redirect URL for the content player.
var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch an activity for a learner and print the redirect URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		activityID, _ := cmd.Flags().GetInt64("activity")
		learnerID, _ := cmd.Flags().GetInt64("learner")
		registrationID, _ := cmd.Flags().GetString("registration")
		if activityID == 0 || learnerID == 0 {
			return fmt.Errorf("--activity and --learner are required")
		}

		db, cleanup, err := openLockedDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		manager := &launch.Manager{
			Store:    db,
			Resolver: newResolver(db),
			SiteRoot: viper.GetString("site.root"),
			SiteLang: viper.GetString("site.lang"),
			Log:      utils.Log,
		}

		redirectURL, err := manager.Launch(cmd.Context(), activityID, learnerID, registrationID)
		if err != nil {
			return err
		}
		fmt.Println(redirectURL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(launchCmd)
	launchCmd.Flags().Int64("activity", 0, "Activity config id")
	launchCmd.Flags().Int64("learner", 0, "Learner id")
	launchCmd.Flags().String("registration", "", "Registration UUID (default: reuse or generate)")
}
