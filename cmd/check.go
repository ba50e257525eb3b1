package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edulab/lrsync/internal/utils"
	lrsync "github.com/edulab/lrsync/pkg/sync"
)

// checkCmd implements: lrsync check
//
// Manual single-learner completion check. Falls through to a direct LRS
// query since a fresh process has no batch cache to consult.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check one learner's completion against the LRS",
	RunE: func(cmd *cobra.Command, args []string) error {
		activityID, _ := cmd.Flags().GetInt64("activity")
		learnerID, _ := cmd.Flags().GetInt64("learner")
		if activityID == 0 || learnerID == 0 {
			return fmt.Errorf("--activity and --learner are required")
		}

		db, cleanup, err := openLockedDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		cfg, err := db.GetActivityConfig(cmd.Context(), activityID)
		if err != nil {
			return fmt.Errorf("activity %d not found: %w", activityID, err)
		}
		learner, err := db.GetLearner(cmd.Context(), learnerID)
		if err != nil {
			return fmt.Errorf("learner %d not found: %w", learnerID, err)
		}

		engine := &lrsync.Engine{
			Store:    db,
			Resolver: newResolver(db),
			Cache:    lrsync.NewCache(),
			SiteRoot: viper.GetString("site.root"),
			Log:      utils.Log,
		}

		complete, err := engine.CheckCompletion(cmd.Context(), cfg, learner)
		if err != nil {
			return err
		}
		if complete {
			fmt.Printf("Learner %d has completed activity %d\n", learnerID, activityID)
		} else {
			fmt.Printf("Learner %d has not completed activity %d\n", learnerID, activityID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().Int64("activity", 0, "Activity config id")
	checkCmd.Flags().Int64("learner", 0, "Learner id")
}
