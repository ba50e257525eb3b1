package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/edulab/lrsync/pkg/storage"
)

// activitiesCmd groups activity-config management subcommands.
var activitiesCmd = &cobra.Command{
	Use:   "activities",
	Short: "Manage tracked activity configurations",
}

var activitiesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a tracked activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cleanup, err := openLockedDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		cfg := storage.ActivityConfig{}
		cfg.Name, _ = cmd.Flags().GetString("name")
		cfg.CourseID, _ = cmd.Flags().GetInt64("course")
		cfg.ContentURL, _ = cmd.Flags().GetString("content-url")
		cfg.ActivityIRI, _ = cmd.Flags().GetString("activity-iri")
		cfg.CompletionVerb, _ = cmd.Flags().GetString("completion-verb")
		cfg.Endpoint, _ = cmd.Flags().GetString("endpoint")
		cfg.AuthMode, _ = cmd.Flags().GetString("auth-mode")
		cfg.Login, _ = cmd.Flags().GetString("login")
		cfg.Password, _ = cmd.Flags().GetString("password")
		cfg.ExpiryDays, _ = cmd.Flags().GetInt("expiry-days")
		cfg.GradeWeight, _ = cmd.Flags().GetFloat64("grade-weight")
		cfg.MultipleRegistrations, _ = cmd.Flags().GetBool("multiple-registrations")
		cfg.EmailIdentification, _ = cmd.Flags().GetBool("email-identification")
		cfg.ActorHomepage, _ = cmd.Flags().GetString("actor-homepage")
		cfg.OverrideDefaults = cfg.Endpoint != ""

		if cfg.Name == "" || cfg.ActivityIRI == "" {
			return fmt.Errorf("--name and --activity-iri are required")
		}
		if !cfg.OverrideDefaults {
			// Connection settings come from the global config at sync time.
			cfg.AuthMode = storage.AuthBasic
		}

		id, err := db.AddActivityConfig(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		fmt.Printf("Added activity %d (%s)\n", id, cfg.Name)
		return nil
	},
}

var activitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked activities",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cleanup, err := openLockedDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		configs, err := db.ListActivityConfigs(cmd.Context())
		if err != nil {
			return err
		}
		if len(configs) == 0 {
			fmt.Println("No activities configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCOURSE\tACTIVITY IRI\tVERB\tEXPIRY\tWEIGHT\t")
		for _, cfg := range configs {
			verb := cfg.CompletionVerb
			if verb == "" {
				verb = "(completion disabled)"
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%dd\t%.0f\t\n",
				cfg.ID, cfg.Name, cfg.CourseID, cfg.ActivityIRI, verb, cfg.ExpiryDays, cfg.GradeWeight)
		}
		w.Flush()
		return nil
	},
}

var activitiesRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a tracked activity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id int64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			return fmt.Errorf("invalid activity id: %s", args[0])
		}

		db, cleanup, err := openLockedDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := db.RemoveActivityConfig(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Removed activity %d\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(activitiesCmd)
	activitiesCmd.AddCommand(activitiesAddCmd)
	activitiesCmd.AddCommand(activitiesListCmd)
	activitiesCmd.AddCommand(activitiesRmCmd)

	activitiesAddCmd.Flags().String("name", "", "Display name")
	activitiesAddCmd.Flags().Int64("course", 0, "Course id the activity belongs to")
	activitiesAddCmd.Flags().String("content-url", "", "URL of the launchable content")
	activitiesAddCmd.Flags().String("activity-iri", "", "xAPI activity IRI")
	activitiesAddCmd.Flags().String("completion-verb", "", "Verb IRI marking completion (empty disables tracking)")
	activitiesAddCmd.Flags().String("endpoint", "", "LRS endpoint (empty: use global default)")
	activitiesAddCmd.Flags().String("auth-mode", storage.AuthBasic, "Auth mode: none, basic or session")
	activitiesAddCmd.Flags().String("login", "", "LRS login (or auth backend login for session mode)")
	activitiesAddCmd.Flags().String("password", "", "LRS password")
	activitiesAddCmd.Flags().Int("expiry-days", 0, "Days before a completion expires (0: never)")
	activitiesAddCmd.Flags().Float64("grade-weight", 0, "Maximum grade (0: no grading)")
	activitiesAddCmd.Flags().Bool("multiple-registrations", false, "Allow multiple registrations per learner")
	activitiesAddCmd.Flags().Bool("email-identification", true, "Identify learners by email (mbox)")
	activitiesAddCmd.Flags().String("actor-homepage", "", "Custom account homePage for id-number identities")
}
