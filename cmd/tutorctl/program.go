package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/noah-isme/tutorhub-api/internal/bootstrap"
)

var programCmd = &cobra.Command{
	Use:   "program",
	Short: "Manage program templates",
}

var programImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create a program from a YAML curriculum document",
	Args:  cobra.ExactArgs(1),
	RunE:  runProgramImport,
}

func init() {
	programCmd.AddCommand(programImportCmd)
}

func runProgramImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	return withEngine(cmd.Context(), func(app *bootstrap.Container) error {
		program, err := app.Programs.ImportYAML(cmd.Context(), data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created program %s (%s) with %d curriculum items\n", program.ID, program.Name, program.Curriculum.Len())
		return nil
	})
}
