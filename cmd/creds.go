package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edulab/lrsync/internal/utils"
	"github.com/edulab/lrsync/pkg/creds"
)

// credsCmd groups credential-cache maintenance subcommands.
var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Manage cached session credentials",
}

// credsSweepCmd implements: lrsync creds sweep
//
// Revokes and deletes expired session credentials. Rows whose revocation
// fails stay in place and are retried by the next sweep.
var credsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Revoke and delete expired session credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cleanup, err := openLockedDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		provider := creds.NewProvider(db)
		provider.Log = utils.Log

		result, err := provider.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Revoked %d expired credentials, kept %d for retry\n", result.Revoked, result.Kept)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(credsCmd)
	credsCmd.AddCommand(credsSweepCmd)
}
