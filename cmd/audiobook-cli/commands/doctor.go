package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"pdf-audiobook/internal/diagnostics"
	"pdf-audiobook/internal/domain"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check external engines and directories",
	Long: `Doctor runs the same checks the desktop app performs at startup:
speech engine binary, OCR engine binary, and write access to the
cache and output directories. The exit code is non-zero when any
check fails.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	report := diagnostics.NewChecker().Run(settings)
	failures := 0
	for _, item := range report.Items {
		fmt.Printf("%s %s: %s\n", statusGlyph(item.Status), item.Name, item.Message)
		if item.Hint != "" && item.Status != domain.DiagnosticStatusPass {
			fmt.Printf("    hint: %s\n", item.Hint)
		}
		if item.Status == domain.DiagnosticStatusFail {
			failures++
		}
	}

	if report.HasFailures {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	fmt.Println("All checks passed.")
	return nil
}

func statusGlyph(status domain.DiagnosticStatus) string {
	switch status {
	case domain.DiagnosticStatusPass:
		return "✓"
	case domain.DiagnosticStatusWarn:
		return "⚠"
	default:
		return "✗"
	}
}
