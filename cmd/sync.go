package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edulab/lrsync/internal/utils"
	lrsync "github.com/edulab/lrsync/pkg/sync"
)

// syncCmd implements: lrsync sync
//
// The scheduled entry point. Sweeps every tracked activity, queries the
// LRS once per activity, reconciles completion and grades, and advances
// the watermark only when the whole run was error-free.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile completion and grades against the LRS",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cleanup, err := openLockedDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		engine := &lrsync.Engine{
			Store:    db,
			Resolver: newResolver(db),
			Cache:    lrsync.NewCache(),
			SiteRoot: viper.GetString("site.root"),
			Log:      utils.Log,
		}

		result, err := engine.Run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Processed %d activities (%d skipped): %d completed, %d revoked, %d grades pushed\n",
			result.Activities, result.Skipped, result.CompletionsSet, result.CompletionsRevoked, result.GradesPushed)
		for _, ae := range result.Errors {
			fmt.Printf("ERROR activity %d (%s): %v\n", ae.ActivityID, ae.Name, ae.Err)
		}
		if result.WatermarkAdvanced {
			fmt.Println("Watermark advanced.")
		} else {
			fmt.Println("Watermark left unchanged; failed activities will be retried next run.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
