package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/tutorhub-api/internal/bootstrap"
	"github.com/noah-isme/tutorhub-api/internal/models"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect enrollment credit ledgers",
}

var verifyEnrollment string

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check hash chains and balances against the ledger",
	Long: `Recomputes every ledger entry hash, checks the chain links and compares
the ledger sum with the stored credit balance. Exits non-zero when any
enrollment fails.`,
	Args: cobra.NoArgs,
	RunE: runLedgerVerify,
}

func init() {
	ledgerVerifyCmd.Flags().StringVar(&verifyEnrollment, "enrollment", "", "verify a single enrollment")
	ledgerCmd.AddCommand(ledgerVerifyCmd)
}

func runLedgerVerify(cmd *cobra.Command, _ []string) error {
	return withEngine(cmd.Context(), func(app *bootstrap.Container) error {
		var results []models.LedgerVerification
		if verifyEnrollment != "" {
			result, err := app.Ledger.VerifyLedger(cmd.Context(), verifyEnrollment)
			if err != nil {
				return err
			}
			results = append(results, *result)
		} else {
			all, err := app.Ledger.VerifyAll(cmd.Context())
			if err != nil {
				return err
			}
			results = all
		}

		out := cmd.OutOrStdout()
		failed := 0
		for _, r := range results {
			state := "ok"
			if !r.Valid {
				state = "FAILED"
				failed++
			}
			fmt.Fprintf(out, "%-36s  %-6s  entries=%d sum=%d balance=%d\n", r.EnrollmentID, state, r.Entries, r.LedgerSum, r.CreditsRemaining)
			for _, problem := range r.Problems {
				fmt.Fprintf(out, "    %s\n", problem)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d ledgers failed verification", failed, len(results))
		}
		fmt.Fprintf(out, "%d ledgers verified\n", len(results))
		return nil
	})
}
