package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect the model service",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available models",
	Args:  cobra.NoArgs,
	RunE:  runModelsList,
}

func init() {
	modelsCmd.AddCommand(modelsListCmd)
	rootCmd.AddCommand(modelsCmd)
}

func runModelsList(cmd *cobra.Command, _ []string) error {
	if catalog == nil {
		return errors.New("model service not configured")
	}

	list, err := catalog.ListModels(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}
	if len(list) == 0 {
		cmd.Println("No models available.")
		return nil
	}

	for _, m := range list {
		marker := " "
		if m.ID == activeModel {
			marker = "*"
		}
		state := "not loaded"
		if m.IsLoaded() {
			state = "loaded"
		}
		cmd.Printf("%s %-48s %-10s %s\n", marker, m.ID, m.Type, state)
	}
	return nil
}
