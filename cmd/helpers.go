package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edulab/lrsync/internal/utils"
	"github.com/edulab/lrsync/pkg/creds"
	"github.com/edulab/lrsync/pkg/settings"
	"github.com/edulab/lrsync/pkg/storage"
)

func resolveDBPath(cmd *cobra.Command) string {
	dbPath, _ := cmd.Flags().GetString("dbpath")
	if dbPath == "" {
		dbPath = "lrsync.sqlite"
	}
	return dbPath
}

// openLockedDB opens the database behind the file lock so a scheduled sync
// and an interactive command never write concurrently. The returned
// cleanup must be called when done.
func openLockedDB(cmd *cobra.Command) (*storage.DB, func(), error) {
	dbPath := resolveDBPath(cmd)

	lock, err := utils.NewDBLock(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err := lock.Lock(); err != nil {
		return nil, nil, err
	}

	db, err := storage.Open(dbPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, nil, err
	}

	cleanup := func() {
		_ = db.Close()
		_ = lock.Unlock()
	}
	return db, cleanup, nil
}

func globalSettings() settings.Global {
	return settings.Global{
		Endpoint: viper.GetString("lrs.endpoint"),
		Login:    viper.GetString("lrs.login"),
		Password: viper.GetString("lrs.password"),
		AuthMode: viper.GetString("lrs.authmode"),
	}
}

func newResolver(db *storage.DB) *settings.Resolver {
	provider := creds.NewProvider(db)
	provider.Log = utils.Log
	return settings.NewResolver(globalSettings(), provider)
}
