package cli

import (
	"github.com/aimerfeng/docagent/internal/sqlsandbox"
	"github.com/spf13/cobra"
)

var sqlCmd = &cobra.Command{
	Use:   "sql",
	Short: "Inspect the read-only SQL sandbox",
}

var sqlValidateCmd = &cobra.Command{
	Use:   "validate [statement]",
	Short: "Validate and scope a statement",
	Long: `Runs a statement through the same checks the query_database tool applies
and prints the user-scoped rewrite. Nothing is executed.`,
	Args: cobra.ExactArgs(1),
	RunE: runSQLValidate,
}

func init() {
	sqlCmd.AddCommand(sqlValidateCmd)
	rootCmd.AddCommand(sqlCmd)
}

func runSQLValidate(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}

	rewritten, err := sqlsandbox.ValidateAndRewrite(args[0], userID)
	if err != nil {
		return err
	}
	cmd.Println(rewritten)
	return nil
}
