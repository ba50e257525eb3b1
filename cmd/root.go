package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edulab/lrsync/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lrsync",
	Short: "Launch tracked xAPI learning content and reconcile completion from an LRS.",
	Long: `lrsync launches tracked xAPI/TinCan learning activities and keeps local
completion and grade state in sync with an external Learning Record Store.

Configure site defaults in ~/.lrsync.yaml, register activities with
'lrsync activities add', then schedule 'lrsync sync' to reconcile.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.lrsync.yaml)")

	// Global flags
	rootCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file (default: lrsync.sqlite in CWD)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".lrsync")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.lrsync.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Set default empty values for all keys
	viper.SetDefault("site.root", "http://localhost")
	viper.SetDefault("site.lang", "en")
	viper.SetDefault("lrs.endpoint", "")
	viper.SetDefault("lrs.login", "")
	viper.SetDefault("lrs.password", "")
	viper.SetDefault("lrs.authmode", "basic")

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}
