package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edulab/lrsync/pkg/storage"
)

// learnersCmd groups learner/enrollment management subcommands. The local
// tables stand in for the host LMS's enrollment provider.
var learnersCmd = &cobra.Command{
	Use:   "learners",
	Short: "Manage learners and course enrollments",
}

var learnersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a learner, optionally enrolling them in a course",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		if username == "" {
			return fmt.Errorf("--username is required")
		}

		db, cleanup, err := openLockedDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		learner := storage.Learner{Username: username}
		learner.Email, _ = cmd.Flags().GetString("email")
		learner.IDNumber, _ = cmd.Flags().GetString("id-number")
		learner.Lang, _ = cmd.Flags().GetString("lang")

		id, err := db.AddLearner(cmd.Context(), learner)
		if err != nil {
			return err
		}

		courseID, _ := cmd.Flags().GetInt64("course")
		if courseID != 0 {
			if err := db.EnrollLearner(cmd.Context(), courseID, id); err != nil {
				return err
			}
		}

		fmt.Printf("Added learner %d (%s)\n", id, username)
		return nil
	},
}

var learnersEnrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll an existing learner in a course",
	RunE: func(cmd *cobra.Command, args []string) error {
		learnerID, _ := cmd.Flags().GetInt64("learner")
		courseID, _ := cmd.Flags().GetInt64("course")
		if learnerID == 0 || courseID == 0 {
			return fmt.Errorf("--learner and --course are required")
		}

		db, cleanup, err := openLockedDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := db.EnrollLearner(cmd.Context(), courseID, learnerID); err != nil {
			return err
		}
		fmt.Printf("Enrolled learner %d in course %d\n", learnerID, courseID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(learnersCmd)
	learnersCmd.AddCommand(learnersAddCmd)
	learnersCmd.AddCommand(learnersEnrollCmd)

	learnersAddCmd.Flags().String("username", "", "Username")
	learnersAddCmd.Flags().String("email", "", "Email address")
	learnersAddCmd.Flags().String("id-number", "", "External id number")
	learnersAddCmd.Flags().String("lang", "", "Preferred language")
	learnersAddCmd.Flags().Int64("course", 0, "Course to enroll the learner in")

	learnersEnrollCmd.Flags().Int64("learner", 0, "Learner id")
	learnersEnrollCmd.Flags().Int64("course", 0, "Course id")
}
